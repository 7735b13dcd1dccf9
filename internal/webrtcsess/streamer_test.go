package webrtcsess

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/videopipe"
)

func TestParseICEServersFallsBackToPublicSTUN(t *testing.T) {
	servers := parseICEServers(nil)
	if len(servers) != 1 {
		t.Fatalf("expected 1 fallback server, got %d", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected fallback URL: %v", servers[0].URLs)
	}
}

func TestParseICEServersHandlesStringAndSliceURLs(t *testing.T) {
	servers := parseICEServers([]ICEServerConfig{
		{URLs: "turn:example.com:3478", Username: "u", Credential: "p"},
		{URLs: []interface{}{"stun:a.example.com", "stun:b.example.com"}},
	})
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].Username != "u" || servers[0].Credential != "p" {
		t.Fatalf("expected credentials preserved on first server")
	}
	if len(servers[1].URLs) != 2 {
		t.Fatalf("expected 2 URLs on second server, got %d", len(servers[1].URLs))
	}
}

func TestSessionSSRCIsStablePerID(t *testing.T) {
	a := sessionSSRC("session-1")
	b := sessionSSRC("session-1")
	c := sessionSSRC("session-2")
	if a != b {
		t.Fatal("expected deterministic SSRC for the same session id")
	}
	if a == c {
		t.Fatal("expected different session ids to produce different SSRCs")
	}
}

func TestReconfigureBitrateOnlyChangeDoesNotCloseSessions(t *testing.T) {
	sess := &UniversalSession{id: "viewer"}
	s := &Streamer{
		pipelineCfg: videopipe.Config{Width: 1920, Height: 1080, FPS: 30, Codec: contracts.CodecH264, Preset: contracts.PresetBalanced},
		sessions:    map[string]*UniversalSession{"viewer": sess},
	}

	bitrateOnly := s.pipelineCfg
	bitrateOnly.Preset = contracts.PresetQuality

	s.Reconfigure(bitrateOnly)

	if _, ok := s.sessions["viewer"]; !ok || sess.closed {
		t.Fatal("expected bitrate-only change to leave the session open")
	}
	if s.pipelineCfg != bitrateOnly {
		t.Fatal("expected the new preset to be recorded for future sessions")
	}
}

func TestReconfigureCodecChangeIsNotBitrateOnly(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	sess := &UniversalSession{id: "viewer", peerConn: pc, cancel: func() {}}

	prev := videopipe.Config{Width: 1920, Height: 1080, FPS: 30, Codec: contracts.CodecH264, Preset: contracts.PresetBalanced}
	s := &Streamer{
		pipeline:    videopipe.New(nil, nil),
		pipelineCfg: prev,
		sessions:    map[string]*UniversalSession{"viewer": sess},
	}
	next := prev
	next.Codec = contracts.CodecVP9

	s.Reconfigure(next)

	if !sess.closed || len(s.sessions) != 0 {
		t.Fatal("expected codec change to not be classified as bitrate-only and to close the session")
	}
}
