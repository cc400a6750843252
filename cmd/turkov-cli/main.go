package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gfermoto/turkovd/internal/config"
	"github.com/gfermoto/turkovd/turkov"
)

func main() {
	args, jsonOutput := splitJSONFlag(os.Args[1:])
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	out := outputMode{json: jsonOutput}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	client := buildClient()

	switch args[0] {
	case "devices":
		devicesCmd(ctx, client, out)
	case "state":
		stateCmd(ctx, client, args[1:], out)
	case "set":
		setCmd(ctx, client, args[1:])
	case "relay":
		relayCmd(ctx, client, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func buildClient() *turkov.Client {
	configPath := envOrDefault("TURKOVD_CONFIG", config.DefaultPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config", err)
	}

	client, err := turkov.NewClient(turkov.Config{
		BaseURL:  cfg.Turkov.BaseURL,
		Email:    cfg.Turkov.Email,
		Password: cfg.Turkov.Password,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fatal("build client", err)
	}
	return client
}

func devicesCmd(ctx context.Context, client *turkov.Client, out outputMode) {
	if err := client.UpdateUserData(ctx, true); err != nil {
		fatal("list devices", err)
	}

	devices := client.Devices()
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if out.json {
		entries := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			device := devices[id]
			entries = append(entries, map[string]string{
				"id":               id,
				"name":             device.Name,
				"type":             device.Type,
				"serial_number":    device.SerialNumber,
				"firmware_version": device.FirmwareVersion,
			})
		}
		out.printJSON(entries)
		return
	}

	rows := [][]string{{"ID", "NAME", "TYPE", "SERIAL", "FIRMWARE"}}
	for _, id := range ids {
		device := devices[id]
		rows = append(rows, []string{id, device.Name, device.Type, device.SerialNumber, device.FirmwareVersion})
	}
	out.table(rows)
}

func stateCmd(ctx context.Context, client *turkov.Client, args []string, out outputMode) {
	device := resolveDevice(ctx, client, args, "state")

	if _, err := device.UpdateState(ctx, false, true); err != nil {
		fatal("update state", err)
	}

	attributes := device.Attributes()
	if out.json {
		out.printJSON(attributes)
		return
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, string(name))
	}
	sort.Strings(names)

	rows := [][]string{{"ATTRIBUTE", "VALUE"}}
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprint(attributes[turkov.Attribute(name)])})
	}
	out.table(rows)
}

func setCmd(ctx context.Context, client *turkov.Client, args []string) {
	device := resolveDevice(ctx, client, args, "set")
	if len(args) < 2 {
		fatal("set", fmt.Errorf("usage: turkov-cli set <device-id> on|off|fan|temp|humidity|mode ..."))
	}

	var err error
	switch args[1] {
	case "on":
		err = device.TurnOn(ctx)
	case "off":
		err = device.TurnOff(ctx)
	case "fan":
		if len(args) < 3 {
			fatal("set fan", fmt.Errorf("usage: turkov-cli set <device-id> fan <auto|0-3>"))
		}
		err = device.SetFanSpeed(ctx, args[2])
	case "temp":
		value := intArg(args, 2, "set temp", "usage: turkov-cli set <device-id> temp <15-50>")
		err = device.SetTargetTemperature(ctx, value)
	case "humidity":
		value := intArg(args, 2, "set humidity", "usage: turkov-cli set <device-id> humidity <40-100>")
		err = device.SetTargetHumidity(ctx, value)
	case "mode":
		if len(args) < 3 {
			fatal("set mode", fmt.Errorf("usage: turkov-cli set <device-id> mode <off|heat|cool>"))
		}
		switch args[2] {
		case "off":
			err = device.TurnOffHVAC(ctx)
		case "heat":
			err = device.TurnOnHeater(ctx)
		case "cool":
			err = device.TurnOnCooler(ctx)
		default:
			fatal("set mode", fmt.Errorf("unknown mode %q", args[2]))
		}
	default:
		fatal("set", fmt.Errorf("unknown setter %q", args[1]))
	}
	if err != nil {
		fatal("set", err)
	}
	fmt.Println("ok")
}

func relayCmd(ctx context.Context, client *turkov.Client, args []string) {
	device := resolveDevice(ctx, client, args, "relay")
	if len(args) < 3 {
		fatal("relay", fmt.Errorf("usage: turkov-cli relay <device-id> <1|2> <on|off|name <name>>"))
	}

	first := args[1] == "1"
	if !first && args[1] != "2" {
		fatal("relay", fmt.Errorf("relay must be 1 or 2"))
	}

	var err error
	switch args[2] {
	case "on", "off":
		enable := args[2] == "on"
		if first {
			err = device.SetFirstRelay(ctx, enable)
		} else {
			err = device.SetSecondRelay(ctx, enable)
		}
	case "name":
		if len(args) < 4 {
			fatal("relay name", fmt.Errorf("usage: turkov-cli relay <device-id> <1|2> name <name>"))
		}
		if first {
			err = device.SetFirstRelayName(ctx, args[3])
		} else {
			err = device.SetSecondRelayName(ctx, args[3])
		}
	default:
		fatal("relay", fmt.Errorf("unknown relay action %q", args[2]))
	}
	if err != nil {
		fatal("relay", err)
	}
	fmt.Println("ok")
}

func resolveDevice(ctx context.Context, client *turkov.Client, args []string, command string) *turkov.Device {
	if len(args) < 1 {
		fatal(command, fmt.Errorf("missing device id"))
	}
	if err := client.UpdateUserData(ctx, true); err != nil {
		fatal(command, err)
	}
	device, ok := client.Device(args[0])
	if !ok {
		fatal(command, fmt.Errorf("device %q not found", args[0]))
	}
	return device
}

func intArg(args []string, index int, command, hint string) int {
	if len(args) <= index {
		fatal(command, fmt.Errorf("%s", hint))
	}
	value, err := strconv.Atoi(args[index])
	if err != nil {
		fatal(command, fmt.Errorf("invalid number %q", args[index]))
	}
	return value
}

func splitJSONFlag(args []string) ([]string, bool) {
	out := make([]string, 0, len(args))
	jsonOutput := false
	for _, arg := range args {
		if arg == "--json" {
			jsonOutput = true
			continue
		}
		out = append(out, arg)
	}
	return out, jsonOutput
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: turkov-cli [--json] <command>

commands:
  devices                                  list registered devices
  state <device-id>                        fetch and print device state
  set <device-id> on|off                   power the unit
  set <device-id> fan <auto|0-3>           set fan speed
  set <device-id> temp <15-50>             set target temperature (°C)
  set <device-id> humidity <40-100>        set target humidity (%)
  set <device-id> mode <off|heat|cool>     select HVAC mode
  relay <device-id> <1|2> <on|off>         switch an auxiliary relay
  relay <device-id> <1|2> name <name>      rename an auxiliary relay`)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "turkov-cli: %s: %v\n", action, err)
	os.Exit(1)
}
