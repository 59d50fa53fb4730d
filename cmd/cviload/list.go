package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func runList(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	ports, err := newLocator().List()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Available serial ports")
	t.AppendHeader(table.Row{"Port", "VID:PID", "Serial", "Product", profile.Name})
	for _, p := range ports {
		id := "-"
		if p.IsUSB {
			id = fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID)
		}
		match := ""
		if p.Matches(profile.VendorID, profile.ProductID) {
			match = "*"
		}
		t.AppendRow(table.Row{p.Name, id, p.SerialNumber, p.Product, match})
	}
	t.Render()

	return nil
}
