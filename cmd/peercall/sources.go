package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/client"
	"github.com/dkeye/peercall/internal/media"
)

// Opus frame carrying 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// sources publishes synthetic local streams, one per kind.
type sources struct {
	ctx context.Context

	mu      sync.Mutex
	streams map[media.Kind]source
}

type source struct {
	id     string
	cancel context.CancelFunc
}

func newSources(ctx context.Context) *sources {
	return &sources{ctx: ctx, streams: make(map[media.Kind]source)}
}

func (s *sources) attach(cl *client.Client, kind media.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[kind]; ok {
		return
	}
	stream, track, err := syntheticStream(kind)
	if err != nil {
		printError(err.Error())
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	go pump(ctx, track, kind)
	s.streams[kind] = source{id: stream.ID, cancel: cancel}
	cl.Attach(stream)
	printInfo("Publishing " + string(kind))
}

func (s *sources) detach(cl *client.Client, kind media.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.streams[kind]
	if !ok {
		return
	}
	delete(s.streams, kind)
	src.cancel()
	cl.Detach(src.id)
	printInfo("Stopped " + string(kind))
}

func (s *sources) toggle(cl *client.Client, kind media.Kind) {
	s.mu.Lock()
	_, on := s.streams[kind]
	s.mu.Unlock()
	if on {
		s.detach(cl, kind)
		return
	}
	s.attach(cl, kind)
}

func syntheticStream(kind media.Kind) (media.LocalStream, *webrtc.TrackLocalStaticSample, error) {
	streamID := uuid.NewString()
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == media.KindMicrophone {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+streamID[:8], streamID)
	if err != nil {
		return media.LocalStream{}, nil, err
	}
	return media.LocalStream{ID: streamID, Kind: kind, Tracks: []webrtc.TrackLocal{track}}, track, nil
}

// pump writes placeholder samples so receivers see packets flowing.
func pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, kind media.Kind) {
	interval := 33 * time.Millisecond
	data := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
	if kind == media.KindMicrophone {
		interval = 20 * time.Millisecond
		data = opusSilence
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: interval}); err != nil {
				log.Debug().Err(err).Str("track", track.ID()).Msg("write sample")
			}
		}
	}
}
