// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package deflate_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/codec/deflate"
	"github.com/momentics/hioload-wsengine/protocol"
)

var agreed = protocol.DeflateAgreement(protocol.DeflateParams{ServerNoContextTakeover: true, ClientNoContextTakeover: true})

func TestCodecRoundTrip(t *testing.T) {
	c, err := deflate.NewCodec(agreed, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range [][]byte{
		nil,
		[]byte("a"),
		[]byte(strings.Repeat("hioload websocket ", 500)),
	} {
		z, err := c.Compress(nil, in)
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		if bytes.HasSuffix(z, []byte{0x00, 0x00, 0xff, 0xff}) {
			t.Error("sync marker not stripped")
		}
		out, err := c.Decompress(nil, z, 0)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestCodecCompressesRepetitiveText(t *testing.T) {
	c, _ := deflate.NewCodec(agreed, 0)
	in := []byte(strings.Repeat("abc", 1000))
	z, _ := c.Compress(nil, in)
	if len(z) >= len(in)/10 {
		t.Errorf("compressed %d -> %d bytes", len(in), len(z))
	}
}

func TestCodecAppendsToDst(t *testing.T) {
	c, _ := deflate.NewCodec(agreed, 0)
	z, _ := c.Compress(nil, []byte("payload"))
	out, err := c.Decompress([]byte("prefix:"), z, 0)
	if err != nil || string(out) != "prefix:payload" {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestCodecLimit(t *testing.T) {
	c, _ := deflate.NewCodec(agreed, 0)
	z, _ := c.Compress(nil, make([]byte, 4096))
	if _, err := c.Decompress(nil, z, 4096); err != nil {
		t.Fatalf("exact limit rejected: %v", err)
	}
	if _, err := c.Decompress(nil, z, 1000); !errors.Is(err, api.ErrResourceExhausted) {
		t.Fatalf("err=%v, want ErrResourceExhausted", err)
	}
}

func TestCodecCorruptInput(t *testing.T) {
	c, _ := deflate.NewCodec(agreed, 0)
	if _, err := c.Decompress(nil, []byte{0xff, 0xff, 0xff}, 0); err == nil {
		t.Fatal("corrupt stream accepted")
	}
}

func TestNewCodecRequiresAgreement(t *testing.T) {
	if _, err := deflate.NewCodec(protocol.Agreement{}, 0); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("err=%v", err)
	}
	if _, err := deflate.NewCodec(agreed, 42); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("level 42: err=%v", err)
	}
}
