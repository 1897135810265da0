package stt

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// AudioStream is a finite sequence of audio chunks, consumed once. Next
// returns io.EOF after the last chunk.
type AudioStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// ReaderStream cuts an io.Reader into fixed-size chunks. The final chunk may
// be shorter. A blocked Read is only interrupted by closing the reader.
type ReaderStream struct {
	r         io.Reader
	chunkSize int
	err       error
}

// NewReaderStream returns a stream of chunkSize-byte chunks read from r.
func NewReaderStream(r io.Reader, chunkSize int) *ReaderStream {
	if chunkSize <= 0 {
		chunkSize = 6400
	}
	return &ReaderStream{r: r, chunkSize: chunkSize}
}

// Next implements AudioStream.
func (s *ReaderStream) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if err != nil {
		s.err = err
		if n > 0 {
			return buf[:n], nil
		}
		return nil, err
	}
	return buf, nil
}

// ChannelStream reads chunks from a channel until it is closed.
type ChannelStream struct {
	ch <-chan []byte
}

// NewChannelStream wraps ch. The producer closes ch to end the stream.
func NewChannelStream(ch <-chan []byte) *ChannelStream {
	return &ChannelStream{ch: ch}
}

// Next implements AudioStream.
func (s *ChannelStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadAll drains stream into one buffer.
func ReadAll(ctx context.Context, stream AudioStream) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(chunk)
	}
}
