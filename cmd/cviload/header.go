package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bigbag/cviload/internal/bootheader"
	"github.com/bigbag/cviload/internal/checksum"
	"github.com/bigbag/cviload/internal/payload"
)

func runHeader(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	image, err := payload.Read(args[0])
	if err != nil {
		return err
	}

	header, err := bootheader.Build(image, profile.HeaderParam)
	if err != nil {
		return fmt.Errorf("failed to build boot header: %w", err)
	}

	if err := os.WriteFile(outputFlag, header, 0o644); err != nil {
		return fmt.Errorf("failed to write boot header: %w", err)
	}

	fmt.Printf("Payload: %s (%s, checksum 0x%04X)\n", args[0], humanize.IBytes(uint64(len(image))), checksum.Sum(image))
	fmt.Printf("Header:  %s (%d bytes)\n", outputFlag, len(header))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read boot header: %w", err)
	}

	record, err := bootheader.Parse(data)
	if err != nil {
		return err
	}

	fields, err := record.Describe()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Boot header %s", args[0])
	t.AppendHeader(table.Row{"Field", "Offset", "Size", "Value"})
	for _, f := range fields {
		t.AppendRow(table.Row{f.Name, fmt.Sprintf("0x%03X", f.Offset), f.Size, formatField(f)})
	}
	t.Render()

	verifyErr := record.Verify(profile.HeaderParam.Magic)
	if verifyErr == nil && payloadFlag != "" {
		image, err := payload.Read(payloadFlag)
		if err != nil {
			return err
		}
		verifyErr = record.VerifyPayload(image)
	}

	if verifyErr != nil {
		fmt.Println("Verification FAILED")
		return verifyErr
	}
	fmt.Println("Verification OK")
	return nil
}

// formatField renders a field value for the inspect table.
func formatField(f bootheader.FieldInfo) string {
	switch {
	case f.Name == "magic":
		return fmt.Sprintf("%q", f.Data)
	case f.IsZero():
		return "-"
	case f.Size == 4:
		var b [4]byte
		copy(b[:], f.Data)
		if sum, ok := checksum.FromSentinel(b); ok {
			return fmt.Sprintf("checksum 0x%04X", sum)
		}
		return fmt.Sprintf("0x%08X", binary.LittleEndian.Uint32(f.Data))
	case f.Size > 16:
		return fmt.Sprintf("% X ...", f.Data[:16])
	default:
		return fmt.Sprintf("% X", f.Data)
	}
}
