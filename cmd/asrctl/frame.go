package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-bridge/internal/protocol"
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Inspect protocol frames",
}

var frameDecodeCmd = &cobra.Command{
	Use:   "decode HEX",
	Short: "Decode a hex-encoded wire frame",
	Long: `Decode prints the header fields of a captured frame and, for server
responses and errors, the parsed payload. Whitespace in HEX is ignored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHex(strings.Join(args, ""))
		if err != nil {
			return err
		}
		return describeFrame(cmd.OutOrStdout(), data)
	},
}

func init() {
	frameCmd.AddCommand(frameDecodeCmd)
}

func parseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

func describeFrame(w io.Writer, data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "type:          %s\n", frame.Type)
	fmt.Fprintf(w, "flags:         %#04b\n", frame.Flags)
	fmt.Fprintf(w, "serialization: %#02x\n", frame.Serialization)
	if frame.HasSequence {
		fmt.Fprintf(w, "sequence:      %d\n", int32(frame.Sequence))
	}
	fmt.Fprintf(w, "payload:       %d bytes\n", len(frame.Payload))

	switch frame.Type {
	case protocol.ServerErrorResponse:
		fmt.Fprintf(w, "error:         %s\n", protocol.DecodeServerError(frame))

	case protocol.FullServerResponse:
		result, err := protocol.ParseServerResult(frame.Payload)
		if errors.Is(err, protocol.ErrEmptyPayload) {
			fmt.Fprintln(w, "result:        (empty)")
			return nil
		}
		if err != nil {
			return err
		}
		if code, ok := result.StatusCode(); ok {
			fmt.Fprintf(w, "status:        %d (success=%t)\n", code, protocol.IsSuccessStatus(code))
		}
		if result.Type != "" {
			fmt.Fprintf(w, "result type:   %s\n", result.Type)
		}
		for i, text := range result.Texts() {
			fmt.Fprintf(w, "text[%d]:       %q\n", i, text)
		}

	case protocol.FullClientRequest:
		fmt.Fprintf(w, "body:          %s\n", protocol.Sanitize(frame.Payload))
	}

	return nil
}
