package domain

import (
	"context"
	"net"
	"strconv"
)

type HostPhase string

const (
	NoHost       = HostPhase("no_host")
	Loading      = HostPhase("loading")
	Up           = HostPhase("up")
	Unreachable  = HostPhase("unreachable")
	ShuttingDown = HostPhase("shutting_down")
)

// HostDetails is the network location of the peer running the world.
type HostDetails struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

func (d HostDetails) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// HostState is an immutable snapshot of the monitor's state. Version grows by
// one with every transition.
type HostState struct {
	Phase    HostPhase    `json:"phase"`
	Details  *HostDetails `json:"details,omitempty"`
	Progress uint8        `json:"progress,omitempty"`
	Version  uint64       `json:"version"`
	// Owner is the user that requested hosting. Any live session of that user
	// may drive the cycle, so a re-login picks up where the old session left.
	Owner string `json:"-"`
}

func (s HostState) IsHost(user string) bool {
	return s.Phase != NoHost && user != "" && s.Owner == user
}

type HostEventType string

const (
	LoadingEvent       = HostEventType("loading")
	LoadedEvent        = HostEventType("loaded")
	RequestToHostEvent = HostEventType("request_to_host")
	ShuttingDownEvent  = HostEventType("shutting_down")
	ShutDownEvent      = HostEventType("shut_down")
)

type HostEvent struct {
	Type     HostEventType `json:"type"`
	Progress uint8         `json:"progress,omitempty"`
	Details  *HostDetails  `json:"details,omitempty"`
}

type BroadcastEventType string

const (
	HostLoading      = BroadcastEventType("host_loading")
	HostLoaded       = BroadcastEventType("host_loaded")
	NewHost          = BroadcastEventType("new_host")
	HostCanceled     = BroadcastEventType("host_canceled")
	HostUnreachable  = BroadcastEventType("host_unreachable")
	HostShuttingDown = BroadcastEventType("host_shutting_down")
	HostRestored     = BroadcastEventType("host_restored")
	HostDropped      = BroadcastEventType("host_dropped")
	HostShutdown     = BroadcastEventType("host_shutdown")
	SaveRegistered   = BroadcastEventType("save_registered")
)

type BroadcastEvent struct {
	Type     BroadcastEventType `json:"type"`
	Progress uint8              `json:"progress,omitempty"`
	Host     *HostDetails       `json:"host,omitempty"`
}

// EventSink receives every outward notification exactly once.
type EventSink interface {
	Publish(event BroadcastEvent)
}

type Prober interface {
	Probe(ctx context.Context, details HostDetails) error
}

type MonitorUseCase interface {
	Serve(ctx context.Context) error
	Submit(ctx context.Context, sender string, event HostEvent) error
	State() HostState
	// WithNoHost runs fn while no hosting cycle can start. It fails with
	// ErrSaveInUse unless the state is NoHost.
	WithNoHost(fn func() error) error
}
