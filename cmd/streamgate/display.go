package main

import (
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var resolutionRe = regexp.MustCompile(`^\d{3,5}x\d{3,5}$`)

// execDisplay drives the X display the pipelines capture from: xrandr for
// resolution, xrdb for Xft.dpi, gsettings for the cursor size.
type execDisplay struct {
	log *slog.Logger
}

func newExecDisplay(log *slog.Logger) *execDisplay {
	return &execDisplay{log: log}
}

func (d *execDisplay) Resize(res string) error {
	if !resolutionRe.MatchString(res) {
		return fmt.Errorf("invalid resolution %q (expected WIDTHxHEIGHT)", res)
	}
	out, err := exec.Command("xrandr", "-s", res).CombinedOutput()
	if err != nil {
		return fmt.Errorf("xrandr -s %s: %w: %s", res, err, strings.TrimSpace(string(out)))
	}
	d.log.Info("resized display", "res", res)
	return nil
}

func (d *execDisplay) SetDPI(dpi int) error {
	cmd := exec.Command("xrdb", "-merge")
	cmd.Stdin = strings.NewReader(fmt.Sprintf("Xft.dpi: %d\n", dpi))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xrdb -merge: %w: %s", err, strings.TrimSpace(string(out)))
	}
	d.log.Info("set display dpi", "dpi", dpi)
	return nil
}

func (d *execDisplay) SetCursorSize(px int) error {
	out, err := exec.Command("gsettings", "set",
		"org.gnome.desktop.interface", "cursor-size", strconv.Itoa(px)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("gsettings cursor-size: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
