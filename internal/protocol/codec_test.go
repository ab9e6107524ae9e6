package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var allowUnexported = cmp.AllowUnexported(
	sender{}, SetName{}, HostGame{}, ListGames{}, JoinPublic{}, JoinPrivate{},
	StartGame{}, RequestStart{}, Help{}, Exit{}, Move{}, Examine{}, Deduce{},
	Accuse{}, ExamAnswer{}, Say{},
)

var testMessages = []Message{
	&SetName{Name: "Violet"},
	&HostGame{ScenarioID: "pemberton-manor", Public: false},
	&ListGames{},
	&JoinPublic{SessionID: "b2a7e1f0"},
	&JoinPrivate{Code: "XK3J9"},
	&StartGame{},
	&RequestStart{},
	&Help{},
	&Exit{},
	&Move{To: "conservatory"},
	&Examine{Target: "candlestick"},
	&Deduce{Suspect: "Col. Weatherby"},
	&Accuse{Suspect: "Col. Weatherby", Motive: "inheritance"},
	&ExamAnswer{Question: 2, Answer: "the torn letter"},
	&Say{Text: "check the cellar"},
	&Identity{PlayerID: "f7d2", Name: "sleuth-f7d2"},
	&HostResult{OK: true, SessionID: "b2a7e1f0", Code: "XK3J9"},
	&JoinResult{OK: false, Reason: "that game is no longer available"},
	&GameList{Entries: []GameListEntry{{SessionID: "b2a7e1f0", ScenarioTitle: "Pemberton Manor", HostName: "Violet"}}},
	&LobbyUpdate{Players: []string{"Violet", "Hugh"}},
	&GameStarted{ScenarioTitle: "Pemberton Manor"},
	&SceneInfo{Title: "Conservatory", Text: "Rain streaks the glass panes."},
	&Info{Text: "You may ask the host to start."},
	&Rejection{Text: "you cannot do that yet"},
	&SessionEnded{Reason: "your partner disconnected"},
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, message := range testMessages {
		t.Run(message.Kind(), func(t *testing.T) {
			frame, err := Encode(message)
			if err != nil {
				t.Fatalf("Encode() returned an unexpected error: %s", err)
			}

			decoded, err := NewDecoder(0).Decode(frame)
			if err != nil {
				t.Fatalf("Decode() returned an unexpected error: %s", err)
			}
			if len(decoded) != 1 {
				t.Fatalf("expected 1 decoded message, got %d", len(decoded))
			}

			if diff := cmp.Diff(message, decoded[0], allowUnexported); diff != "" {
				t.Errorf("decoded message did not match original; diff:\n%s", diff)
			}
		})
	}
}

func TestDecoder_ByteByByte(t *testing.T) {
	var stream []byte
	for _, message := range testMessages {
		frame, err := Encode(message)
		if err != nil {
			t.Fatalf("Encode() returned an unexpected error: %s", err)
		}
		stream = append(stream, frame...)
	}

	allAtOnce, err := NewDecoder(0).Decode(stream)
	if err != nil {
		t.Fatalf("Decode() of the full stream failed: %s", err)
	}

	decoder := NewDecoder(0)
	var oneAtATime []Message
	for i := range stream {
		decoded, err := decoder.Decode(stream[i : i+1])
		if err != nil {
			t.Fatalf("Decode() of byte %d failed: %s", i, err)
		}
		oneAtATime = append(oneAtATime, decoded...)
	}

	if diff := cmp.Diff(allAtOnce, oneAtATime, allowUnexported); diff != "" {
		t.Errorf("byte-by-byte decoding diverged from whole-stream decoding; diff:\n%s", diff)
	}
}

func TestDecoder_EmptyFrame(t *testing.T) {
	frame := make([]byte, frameHeaderSize)

	if _, err := NewDecoder(0).Decode(frame); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestDecoder_OversizedFrame(t *testing.T) {
	frame := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(frame, uint32(DefaultMaxFrameSize+1))

	if _, err := NewDecoder(0).Decode(frame); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecoder_MalformedPayload(t *testing.T) {
	payload := []byte("this is not an envelope")
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if _, err := NewDecoder(0).Decode(frame); err == nil {
		t.Error("expected an error decoding a malformed payload")
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	frame, err := Encode(&Say{Text: "meet me in the library"})
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %s", err)
	}

	decoder := NewDecoder(0)

	// Split inside the length prefix, then inside the body.
	decoded, err := decoder.Decode(frame[:2])
	if err != nil || len(decoded) != 0 {
		t.Fatalf("expected no messages and no error mid-header, got %d, %v", len(decoded), err)
	}
	decoded, err = decoder.Decode(frame[2:10])
	if err != nil || len(decoded) != 0 {
		t.Fatalf("expected no messages and no error mid-body, got %d, %v", len(decoded), err)
	}
	decoded, err = decoder.Decode(frame[10:])
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %s", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 decoded message, got %d", len(decoded))
	}
}
