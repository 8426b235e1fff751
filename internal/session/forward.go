package session

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Sender is the outbound half of a signaling channel.
type Sender interface {
	SendSDP(desc webrtc.SessionDescription) error
	SendICE(candidate webrtc.ICECandidateInit) error
}

// Forwarder relays pipeline negotiation output to a signaling channel. The
// pipeline and the channel are constructed in either order, so the channel
// is bound late; events arriving before Bind are dropped with a warning,
// matching a pipeline that emitted before its channel registered.
type Forwarder struct {
	log *slog.Logger

	mu     sync.Mutex
	sender Sender
}

func NewForwarder(log *slog.Logger) *Forwarder {
	return &Forwarder{log: log}
}

func (f *Forwarder) Bind(s Sender) {
	f.mu.Lock()
	f.sender = s
	f.mu.Unlock()
}

func (f *Forwarder) OnSDP(desc webrtc.SessionDescription) {
	f.mu.Lock()
	s := f.sender
	f.mu.Unlock()
	if s == nil {
		f.log.Warn("dropping sdp emitted before channel bind")
		return
	}
	if err := s.SendSDP(desc); err != nil {
		f.log.Error("failed to send sdp", "err", err)
	}
}

func (f *Forwarder) OnICE(candidate webrtc.ICECandidateInit) {
	f.mu.Lock()
	s := f.sender
	f.mu.Unlock()
	if s == nil {
		f.log.Warn("dropping ice candidate emitted before channel bind")
		return
	}
	if err := s.SendICE(candidate); err != nil {
		f.log.Error("failed to send ice candidate", "err", err)
	}
}
