package utils

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

func DecodeJson[T any](r io.Reader) (T, error) {
	var result T
	if err := jsoniter.NewDecoder(r).Decode(&result); err != nil {
		return *new(T), errors.WithMessage(err, "decode json")
	}
	return result, nil
}

// EncodeJson returns a reader over the json encoding of v. A nil v encodes
// to an empty body.
func EncodeJson(v any) (io.Reader, error) {
	if v == nil {
		return bytes.NewReader(nil), nil
	}
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal json")
	}
	return bytes.NewReader(data), nil
}
