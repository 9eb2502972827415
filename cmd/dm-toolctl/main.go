// Command dm-toolctl is the companion admin CLI for lightdmd: a thin
// wrapper around the org.freedesktop.DisplayManager D-Bus object tree
// internal/dbusapi publishes, plus "lock", "add-local-x-seat", and
// "doctor".
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	managerDest  = "org.freedesktop.DisplayManager"
	managerIface = "org.freedesktop.DisplayManager"
	seatIface    = "org.freedesktop.DisplayManager.Seat"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Run 'dm-toolctl --help' to see a full list of available command line options.")
}

func help() {
	fmt.Fprint(os.Stderr, `Usage:
  dm-toolctl [OPTION...] COMMAND [ARGS...] - Display Manager tool

Options:
  -h, --help        Show help options
  -v, --version     Show release version
  --session-bus     Use session D-Bus

Commands:
  switch-to-greeter                   Switch to the greeter
  switch-to-user USERNAME [SESSION]   Switch to a user session
  switch-to-guest [SESSION]           Switch to a guest session
  lock                                Lock the current seat
  add-seat TYPE [NAME=VALUE...]       Add a dynamic seat
  add-local-x-seat DISPLAY_NUMBER     Add a dynamic local X seat
  doctor                              Print recent daemon log records
`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	busType := "system"

	i := 0
	for ; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "-h", "--help":
			help()
			return 0
		case "-v", "--version":
			fmt.Println("lightdmd 1.0.0")
			return 0
		case "--session-bus":
			busType = "session"
		default:
			fmt.Fprintf(os.Stderr, "Unknown option %s\n", arg)
			usage()
			return 1
		}
	}

	if i >= len(args) {
		fmt.Fprintln(os.Stderr, "Missing command")
		usage()
		return 1
	}

	conn, err := dialBus(busType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to contact display manager: %s\n", err)
		return 1
	}
	defer conn.Close()

	manager := conn.Object(managerDest, dbus.ObjectPath("/org/freedesktop/DisplayManager"))
	seatPath := os.Getenv("XDG_SEAT_PATH")
	if seatPath == "" {
		seatPath = "/org/freedesktop/DisplayManager/Seat0"
	}
	seatObj := conn.Object(managerDest, dbus.ObjectPath(seatPath))

	command := args[i]
	rest := args[i+1:]

	switch command {
	case "switch-to-greeter":
		return dispatchSwitchToGreeter(seatObj, rest)
	case "switch-to-user":
		return dispatchSwitchToUser(seatObj, rest)
	case "switch-to-guest":
		return dispatchSwitchToGuest(seatObj, rest)
	case "lock":
		return dispatchLock(seatObj, rest)
	case "add-seat":
		return dispatchAddSeat(manager, rest)
	case "add-local-x-seat":
		return dispatchAddLocalXSeat(manager, rest)
	case "doctor":
		return dispatchDoctor(manager, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %s\n", command)
		usage()
		return 1
	}
}

func dialBus(busType string) (*dbus.Conn, error) {
	if busType == "session" {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}

func dispatchSwitchToGreeter(seatObj dbus.BusObject, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "Usage: switch-to-greeter")
		usage()
		return 1
	}
	if call := seatObj.Call(seatIface+".SwitchToGreeter", 0); call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to switch to greeter: %s\n", call.Err)
		return 1
	}
	return 0
}

func dispatchSwitchToUser(seatObj dbus.BusObject, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: switch-to-user USERNAME [SESSION]")
		usage()
		return 1
	}
	username := args[0]
	session := ""
	if len(args) == 2 {
		session = args[1]
	}
	if call := seatObj.Call(seatIface+".SwitchToUser", 0, username, session); call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to switch to user %s: %s\n", username, call.Err)
		return 1
	}
	return 0
}

func dispatchSwitchToGuest(seatObj dbus.BusObject, args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: switch-to-guest [SESSION]")
		usage()
		return 1
	}
	session := ""
	if len(args) == 1 {
		session = args[0]
	}
	if call := seatObj.Call(seatIface+".SwitchToGuest", 0, session); call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to switch to guest: %s\n", call.Err)
		return 1
	}
	return 0
}

func dispatchLock(seatObj dbus.BusObject, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "Usage: lock")
		usage()
		return 1
	}
	if call := seatObj.Call(seatIface+".Lock", 0); call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to lock: %s\n", call.Err)
		return 1
	}
	return 0
}

func dispatchAddSeat(manager dbus.BusObject, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: add-seat TYPE [NAME=VALUE...]")
		usage()
		return 1
	}
	seatType := args[0]

	type kv struct {
		Key   string
		Value string
	}
	props := make([]kv, 0, len(args)-1)
	for _, arg := range args[1:] {
		name, value, _ := strings.Cut(arg, "=")
		props = append(props, kv{Key: name, Value: value})
	}

	var path dbus.ObjectPath
	call := manager.Call(managerIface+".AddSeat", 0, seatType, props)
	if call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to add seat: %s\n", call.Err)
		return 1
	}
	if err := call.Store(&path); err != nil {
		fmt.Fprintf(os.Stderr, "Unexpected response to AddSeat: %s\n", err)
		return 1
	}
	fmt.Println(string(path))
	return 0
}

func dispatchDoctor(manager dbus.BusObject, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "Usage: doctor")
		usage()
		return 1
	}

	var records []string
	call := manager.Call(managerIface+".RecentLogs", 0)
	if call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to fetch recent logs: %s\n", call.Err)
		return 1
	}
	if err := call.Store(&records); err != nil {
		fmt.Fprintf(os.Stderr, "Unexpected response to RecentLogs: %s\n", err)
		return 1
	}

	for _, record := range records {
		fmt.Println(record)
	}
	return 0
}

func dispatchAddLocalXSeat(manager dbus.BusObject, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: add-local-x-seat DISPLAY_NUMBER")
		usage()
		return 1
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid display number %q: %s\n", args[0], err)
		return 1
	}

	var path dbus.ObjectPath
	call := manager.Call(managerIface+".AddLocalXSeat", 0, int32(n))
	if call.Err != nil {
		fmt.Fprintf(os.Stderr, "Unable to add local X seat: %s\n", call.Err)
		return 1
	}
	if err := call.Store(&path); err != nil {
		fmt.Fprintf(os.Stderr, "Unexpected response to AddLocalXSeat: %s\n", err)
		return 1
	}
	fmt.Println(string(path))
	return 0
}
