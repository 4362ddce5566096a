package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/discovery"
)

// Device add flags
var (
	nickname    string
	verifyAdd   bool
	addInterval int
	addTimeout  int
)

// Device set flags
var (
	setInterval int
	setNickname string
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage configured devices",
	Long: `Add, list, change and remove the devices polled by 'zendure-poller run'.

Devices are stored by serial number in the configuration file; a serial can
only be configured once.`,
}

var deviceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a device",
	Example: `  zendure-poller device add --serial HOA1B2C3
  zendure-poller device add --serial HOA1B2C3 --interval 15 --nickname Balcony --verify`,
	RunE: runDeviceAdd,
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured devices",
	RunE:  runDeviceList,
}

var deviceSetCmd = &cobra.Command{
	Use:   "set <serial>",
	Short: "Change the settings of a device",
	Long: `Change the polling interval or nickname of a configured device.

A running 'zendure-poller run' picks up the change when it receives SIGHUP.`,
	Example: `  zendure-poller device set HOA1B2C3 --interval 60
  zendure-poller device set HOA1B2C3 --nickname Garage
  pkill -HUP zendure-poller`,
	Args: cobra.ExactArgs(1),
	RunE: runDeviceSet,
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove <serial>",
	Short: "Remove a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceRemove,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceAddCmd, deviceListCmd, deviceSetCmd, deviceRemoveCmd)

	deviceAddCmd.Flags().StringVar(&serial, "serial", "", "Device serial number")
	deviceAddCmd.Flags().StringVar(&model, "model", config.ModelSolarFlow800, "Device model")
	deviceAddCmd.Flags().IntVar(&addInterval, "interval", config.DefaultUpdateInterval, "Polling interval in seconds (10-600)")
	deviceAddCmd.Flags().StringVar(&nickname, "nickname", "", "Display name")
	deviceAddCmd.Flags().BoolVar(&verifyAdd, "verify", false, "Resolve the device before saving it")
	deviceAddCmd.Flags().IntVar(&addTimeout, "timeout", config.DefaultDiscoverTimeout, "mDNS resolve timeout in seconds for --verify")
	_ = deviceAddCmd.MarkFlagRequired("serial")

	deviceSetCmd.Flags().IntVar(&setInterval, "interval", 0, "Polling interval in seconds (10-600)")
	deviceSetCmd.Flags().StringVar(&setNickname, "nickname", "", "Display name (empty clears it)")
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	entry := &config.Entry{
		Serial:         serial,
		Model:          model,
		UpdateInterval: config.ClampUpdateInterval(addInterval),
		Nickname:       nickname,
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if reg.GetEntry(entry.ID()) != nil {
		return fmt.Errorf("%w: %s", config.ErrDuplicateEntry, entry.ID())
	}

	if verifyAdd {
		query := discovery.NewQuery(entry.Model, entry.Serial)
		query.Timeout = secondsOrDefault(addTimeout, query.Timeout)

		ep, err := discovery.NewResolver().Resolve(cmd.Context(), query)
		if err != nil {
			if errors.Is(err, discovery.ErrTimeout) {
				return fmt.Errorf("%s is not advertising on this network: %w", query.ExpectedName, err)
			}
			return err
		}
		entry.LastIP = ep.IP
		fmt.Fprintf(cmd.OutOrStdout(), "Found %s\n", ep)
	}

	if err := reg.AddEntry(entry); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (polling every %s)\n", entry.Title(), formatInterval(entry.UpdateInterval))
	return nil
}

func runDeviceList(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	ids := reg.EntryIDs()
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tMODEL\tNAME\tINTERVAL\tLAST IP\tLAST SEEN")
	for _, id := range ids {
		e := reg.GetEntry(id)
		lastSeen := "never"
		if !e.LastSeen.IsZero() {
			lastSeen = e.LastSeen.Format("2006-01-02 15:04")
		}
		lastIP := e.LastIP
		if lastIP == "" {
			lastIP = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Serial, e.Model, e.Title(), formatInterval(e.UpdateInterval), lastIP, lastSeen)
	}
	return w.Flush()
}

// entryUpdate holds the settings given to 'device set'; nil fields are kept
type entryUpdate struct {
	Interval *int
	Nickname *string
}

// apply changes the entry id in reg and returns the updated copy
func (u entryUpdate) apply(reg *config.Registry, id string) (*config.Entry, error) {
	saved := reg.GetEntry(id)
	if saved == nil {
		return nil, fmt.Errorf("device %s is not configured", id)
	}
	if u.Interval == nil && u.Nickname == nil {
		return nil, errors.New("nothing to change: pass --interval or --nickname")
	}

	entry := *saved
	if u.Interval != nil {
		entry.UpdateInterval = config.ClampUpdateInterval(*u.Interval)
	}
	if u.Nickname != nil {
		entry.Nickname = *u.Nickname
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	reg.Entries[id] = &entry
	return &entry, nil
}

func runDeviceSet(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	var u entryUpdate
	if cmd.Flags().Changed("interval") {
		u.Interval = &setInterval
	}
	if cmd.Flags().Changed("nickname") {
		u.Nickname = &setNickname
	}

	entry, err := u.apply(reg, args[0])
	if err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (polling every %s)\n", entry.Title(), formatInterval(entry.UpdateInterval))
	fmt.Fprintln(cmd.OutOrStdout(), "Send SIGHUP to a running 'zendure-poller run' to apply it.")
	return nil
}

func runDeviceRemove(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	if !reg.RemoveEntry(args[0]) {
		return fmt.Errorf("device %s is not configured", args[0])
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}
