package audio

import (
	"strings"
	"testing"
)

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i%2000 - 1000)
	}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Errorf("encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsEmpty(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("EncodeWAV should reject empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("EncodeWAV should reject zero sample rate")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"too short", []byte("RIFF"), "too short"},
		{"not wav", make([]byte, 60), "not a WAV file"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tc.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
