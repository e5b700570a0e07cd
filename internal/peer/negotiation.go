package peer

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

func (s *Session) start() {
	s.setState(StateNegotiating, nil)
	s.armTimer(timerNegotiation, s.cfg.NegotiationTimeout)
	if !s.initiator {
		return
	}
	s.wantRecv = map[string]int{
		webrtc.RTPCodecTypeAudio.String(): 1,
		webrtc.RTPCodecTypeVideo.String(): 1,
	}
	s.offer(false)
}

func (s *Session) onSignal(p domain.SignalPayload) {
	if err := p.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("dropping invalid signal")
		return
	}
	switch p.Kind {
	case domain.SignalOffer:
		s.onOffer(p.SDP)
	case domain.SignalAnswer:
		s.onAnswer(p.SDP)
	case domain.SignalCandidate:
		s.onCandidate(*p.Candidate)
	case domain.SignalRenegotiate:
		s.onRenegotiate(p.Kinds)
	}
}

// offer runs an initiator round with the current local tracks.
func (s *Session) offer(iceRestart bool) {
	if err := s.cfg.Conn.EnsureReceivers(s.wantRecv); err != nil {
		s.fail(err)
		return
	}
	tracks := s.cfg.Tracks()
	if err := s.cfg.Conn.SetLocalTracks(tracks); err != nil {
		s.fail(err)
		return
	}
	s.advertise(tracks)
	desc, err := s.cfg.Conn.CreateOffer(iceRestart)
	if err != nil {
		s.fail(err)
		return
	}
	s.roundInFlight = true
	s.pendingChange = false
	s.pendingLocal = false
	s.armTimer(timerNegotiation, s.cfg.NegotiationTimeout)
	s.send(domain.SignalPayload{Kind: domain.SignalOffer, SDP: desc.SDP})
}

func (s *Session) onOffer(sdp string) {
	if s.initiator {
		s.log.Warn().Msg("ignoring offer received as initiator")
		return
	}
	switch s.state {
	case StateConnected:
		s.setState(StateRenegotiating, nil)
	case StateFailed:
		s.stopTimer(timerRetry)
		s.setState(StateNegotiating, nil)
	}
	s.armTimer(timerNegotiation, s.cfg.NegotiationTimeout)

	if err := s.applyRemote(webrtc.SDPTypeOffer, sdp); err != nil {
		s.fail(err)
		return
	}
	tracks := s.cfg.Tracks()
	if err := s.cfg.Conn.SetLocalTracks(tracks); err != nil {
		s.fail(err)
		return
	}
	s.advertise(tracks)
	desc, err := s.cfg.Conn.CreateAnswer()
	if err != nil {
		s.fail(err)
		return
	}
	s.send(domain.SignalPayload{Kind: domain.SignalAnswer, SDP: desc.SDP})

	// The answer reflects the latest tracks; only tracks without a slot
	// in the offer need another round.
	s.pendingChange = false
	s.pendingLocal = false
	if countKinds(s.cfg.Conn.Unplaced()) > 0 {
		s.pendingChange = true
	} else {
		s.lastRequest = nil
	}
	s.roundDone()
}

func (s *Session) onAnswer(sdp string) {
	if !s.initiator {
		s.log.Warn().Msg("ignoring answer received as responder")
		return
	}
	if !s.roundInFlight {
		s.log.Debug().Msg("ignoring stale answer")
		return
	}
	if err := s.applyRemote(webrtc.SDPTypeAnswer, sdp); err != nil {
		s.fail(err)
		return
	}
	s.roundDone()
}

func (s *Session) applyRemote(t webrtc.SDPType, sdp string) error {
	if err := s.cfg.Conn.SetRemoteDescription(webrtc.SessionDescription{Type: t, SDP: sdp}); err != nil {
		return err
	}
	s.remoteSet = true
	for _, c := range s.candidates {
		if err := s.cfg.Conn.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("add buffered candidate")
		}
	}
	s.candidates = nil
	return nil
}

func (s *Session) onCandidate(c domain.Candidate) {
	ci := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if !s.remoteSet {
		s.candidates = append(s.candidates, ci)
		return
	}
	if err := s.cfg.Conn.AddICECandidate(ci); err != nil {
		s.log.Warn().Err(err).Msg("add candidate")
	}
}

func (s *Session) onRenegotiate(kinds map[string]int) {
	if !s.initiator {
		s.log.Warn().Msg("ignoring renegotiation request received as responder")
		return
	}
	for kind, n := range kinds {
		if n > s.wantRecv[kind] {
			s.wantRecv[kind] = n
		}
	}
	s.onLocalChange(true)
}

func (s *Session) onLocalChange(local bool) {
	if s.state == StateClosed {
		return
	}
	s.pendingChange = true
	if local {
		s.pendingLocal = true
	}
	if s.state == StateConnected && !s.roundInFlight {
		s.armTimer(timerDebounce, s.cfg.Debounce)
	}
}

// startRound begins a renegotiation from connected. The responder cannot
// offer, so it asks the initiator for one.
func (s *Session) startRound() {
	local := s.pendingLocal
	s.pendingChange = false
	s.pendingLocal = false
	if s.initiator {
		s.setState(StateRenegotiating, nil)
		s.offer(false)
		return
	}
	want := TrackKinds(s.cfg.Tracks())
	if !local && sameKinds(want, s.lastRequest) {
		return
	}
	s.setState(StateRenegotiating, nil)
	s.request(want)
}

func (s *Session) request(kinds map[string]int) {
	s.lastRequest = kinds
	s.roundInFlight = true
	s.armTimer(timerNegotiation, s.cfg.NegotiationTimeout)
	s.send(domain.SignalPayload{Kind: domain.SignalRenegotiate, Kinds: kinds})
}

func (s *Session) roundDone() {
	s.roundInFlight = false
	if s.iceConnected {
		s.settle()
	}
}

// settle marks the session connected and schedules any queued change.
func (s *Session) settle() {
	s.stopTimer(timerNegotiation)
	s.retries = 0
	s.setState(StateConnected, nil)
	if s.pendingChange {
		s.armTimer(timerDebounce, s.cfg.Debounce)
	}
}

func (s *Session) onConnState(st webrtc.PeerConnectionState) {
	s.log.Debug().Str("ice", st.String()).Msg("connection state")
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.iceConnected = true
		s.stopTimer(timerGrace)
		if !s.roundInFlight && (s.state == StateNegotiating || s.state == StateRenegotiating) {
			s.settle()
		}
	case webrtc.PeerConnectionStateDisconnected:
		if s.iceConnected {
			s.iceConnected = false
			s.armTimer(timerGrace, s.cfg.DisconnectGrace)
		}
	case webrtc.PeerConnectionStateFailed:
		s.iceConnected = false
		if s.state != StateFailed {
			s.fail(ErrIceFailure)
		}
	}
}

func (s *Session) onTimer(k timerKind) {
	switch k {
	case timerNegotiation:
		s.fail(ErrNegotiationTimeout)
	case timerGrace:
		if !s.iceConnected {
			s.fail(ErrIceFailure)
		}
	case timerDebounce:
		if s.state == StateConnected && !s.roundInFlight && s.pendingChange {
			s.startRound()
		}
	case timerRetry:
		if s.state == StateFailed {
			s.retry()
		}
	}
}

func (s *Session) fail(err error) {
	s.stopTimer(timerNegotiation)
	s.stopTimer(timerDebounce)
	s.stopTimer(timerGrace)
	s.roundInFlight = false
	s.setState(StateFailed, err)
	if s.cfg.MaxRetries < 0 || s.retries >= s.cfg.MaxRetries {
		s.exitErr = err
		s.stopping = true
		return
	}
	s.retries++
	d := s.backoff(s.retries)
	s.log.Warn().Err(err).Int("attempt", s.retries).Dur("backoff", d).Msg("negotiation failed, retrying")
	s.armTimer(timerRetry, d)
}

// retry restarts negotiation. The initiator restarts ICE with a fresh
// offer; the responder asks for one.
func (s *Session) retry() {
	s.setState(StateNegotiating, nil)
	if s.initiator {
		s.offer(true)
		return
	}
	s.request(TrackKinds(s.cfg.Tracks()))
}

func (s *Session) advertise(tracks []webrtc.TrackLocal) {
	if s.cfg.OnAdvertised == nil {
		return
	}
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.ID())
	}
	s.cfg.OnAdvertised(ids)
}

func (s *Session) send(p domain.SignalPayload) {
	if err := s.cfg.Send(p); err != nil {
		s.log.Warn().Err(err).Str("kind", string(p.Kind)).Msg("send signal")
	}
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	select {
	case <-s.done:
		return
	default:
	}
	s.send(domain.SignalPayload{Kind: domain.SignalCandidate, Candidate: &domain.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}})
}

func countKinds(kinds map[string]int) int {
	n := 0
	for _, v := range kinds {
		n += v
	}
	return n
}

func sameKinds(a, b map[string]int) bool {
	if b == nil {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}
