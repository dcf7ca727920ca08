package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/wire"
	"github.com/user/gatts-table/wire/gatt"
)

var (
	errNoHandle = errors.New("no handle specified")
	errNoValue  = errors.New("no value specified")
	errNoData   = errors.New("peer has no data service")
)

var (
	flgHandle   = cli.StringFlag{Name: "handle", Usage: "Attribute handle, e.g. 0x002a"}
	flgValue    = cli.StringFlag{Name: "value, v", Usage: "Value in hex, e.g. \"55 aa ff\""}
	flgDuration = cli.DurationFlag{Name: "duration, d", Value: 5 * time.Second, Usage: "How long to listen"}
	flgIndicate = cli.BoolFlag{Name: "ind", Usage: "Indication instead of notification"}
)

func main() {
	app := cli.NewApp()

	app.Name = "gatts-central"
	app.Usage = "Client for gatts-table peripherals on the wire socket"
	app.Version = "1.2.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "peer, p", Value: "s-patch3", Usage: "Device id of the peripheral"},
		cli.UintFlag{Name: "mtu", Value: 517, Usage: "MTU offered after connecting (0 keeps 23)"},
		cli.StringFlag{Name: "log-level, l", Value: "warn", Usage: "trace, debug, info, warn or error"},
		cli.BoolFlag{Name: "trace", Usage: "Write packet traces under the data dir"},
	}
	app.Before = func(c *cli.Context) error {
		logger.SetLevel(logger.ParseLevel(c.String("log-level")))
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "List advertising peripherals",
			Action: cmdScan,
		},
		{
			Name:    "discover",
			Aliases: []string{"d"},
			Usage:   "Discover services, characteristics and descriptors",
			Action:  cmdDiscover,
		},
		{
			Name:    "read",
			Aliases: []string{"r"},
			Usage:   "Read an attribute, following up with blob reads",
			Action:  cmdRead,
			Flags:   []cli.Flag{flgHandle},
		},
		{
			Name:    "write",
			Aliases: []string{"w"},
			Usage:   "Write an attribute",
			Action:  cmdWrite,
			Flags:   []cli.Flag{flgHandle, flgValue, cli.BoolFlag{Name: "no-rsp", Usage: "Write command"}},
		},
		{
			Name:   "long-write",
			Usage:  "Write a value through prepare and execute write",
			Action: cmdLongWrite,
			Flags:  []cli.Flag{flgHandle, flgValue},
		},
		{
			Name:    "subscribe",
			Aliases: []string{"sub"},
			Usage:   "Enable notifications or indications on a CCCD and print values",
			Action:  cmdSubscribe,
			Flags:   []cli.Flag{flgHandle, flgIndicate, flgDuration},
		},
		{
			Name:   "arm",
			Usage:  "Send the start command and print the notification stream",
			Action: cmdArm,
			Flags:  []cli.Flag{flgDuration},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func connect(c *cli.Context) (*wire.Central, error) {
	id := "central-" + uuid.New().String()[:8]
	central, err := wire.Dial(c.GlobalString("peer"), id, wire.WithTrace(c.GlobalBool("trace")))
	if err != nil {
		return nil, errors.Wrapf(err, "can't connect to %s", c.GlobalString("peer"))
	}
	if mtu := c.GlobalUint("mtu"); mtu != 0 {
		got, err := central.ExchangeMTU(uint16(mtu))
		if err != nil {
			central.Close()
			return nil, errors.Wrap(err, "can't exchange MTU")
		}
		fmt.Printf("MTU %d\n", got)
	}
	return central, nil
}

func parseHandle(c *cli.Context) (uint16, error) {
	s := c.String("handle")
	if s == "" {
		return 0, errNoHandle
	}
	h, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid handle %q", s)
	}
	return uint16(h), nil
}

func parseValue(c *cli.Context) ([]byte, error) {
	s := c.String("value")
	if s == "" {
		return nil, errNoValue
	}
	v, err := config.ParseHex(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid value %q", s)
	}
	return v, nil
}

func cmdScan(c *cli.Context) error {
	found, err := wire.Scan()
	if err != nil {
		return errors.Wrap(err, "can't scan")
	}
	if len(found) == 0 {
		fmt.Println("No advertising peripherals")
		return nil
	}
	for _, a := range found {
		fmt.Printf("%-20s name=%q adv=[% X] rsp=[% X]\n", a.DeviceID, a.LocalName(), a.Data, a.ScanRsp)
		if flags, ok := a.Flags(); ok {
			fmt.Printf("%-20s flags=0x%02X\n", "", flags)
		}
		if company, data, ok := a.Manufacturer(); ok {
			fmt.Printf("%-20s manufacturer=0x%04X data=[% X]\n", "", company, data)
		}
	}
	return nil
}

func cmdDiscover(c *cli.Context) error {
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	cache, err := central.Discover()
	if err != nil {
		return errors.Wrap(err, "can't discover")
	}
	for _, s := range cache.Services {
		fmt.Printf("Service %s (0x%04X-0x%04X)\n", s.UUID, s.StartHandle, s.EndHandle)
		for _, ch := range cache.Characteristics[s.StartHandle] {
			fmt.Printf("  Characteristic %s value=0x%04X props=%s\n", ch.UUID, ch.ValueHandle, propString(ch.Properties))
			for _, d := range cache.Descriptors[ch.ValueHandle] {
				fmt.Printf("    Descriptor %s handle=0x%04X\n", d.UUID, d.Handle)
			}
		}
	}
	return nil
}

func cmdRead(c *cli.Context) error {
	handle, err := parseHandle(c)
	if err != nil {
		return err
	}
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	value, err := central.Read(handle)
	if err != nil {
		return errors.Wrapf(err, "can't read 0x%04X", handle)
	}
	fmt.Printf("0x%04X: [% X] %q\n", handle, value, value)
	return nil
}

func cmdWrite(c *cli.Context) error {
	handle, err := parseHandle(c)
	if err != nil {
		return err
	}
	value, err := parseValue(c)
	if err != nil {
		return err
	}
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	if c.Bool("no-rsp") {
		err = central.WriteCommand(handle, value)
	} else {
		err = central.Write(handle, value)
	}
	if err != nil {
		return errors.Wrapf(err, "can't write 0x%04X", handle)
	}
	fmt.Printf("Wrote %d bytes to 0x%04X\n", len(value), handle)
	return nil
}

func cmdLongWrite(c *cli.Context) error {
	handle, err := parseHandle(c)
	if err != nil {
		return err
	}
	value, err := parseValue(c)
	if err != nil {
		return err
	}
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	if err := central.LongWrite(handle, value); err != nil {
		return errors.Wrapf(err, "can't long-write 0x%04X", handle)
	}
	fmt.Printf("Committed %d bytes to 0x%04X\n", len(value), handle)
	return nil
}

func cmdSubscribe(c *cli.Context) error {
	cccd, err := parseHandle(c)
	if err != nil {
		return err
	}
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	ind := c.Bool("ind")
	if err := central.Subscribe(cccd, !ind, ind); err != nil {
		return errors.Wrapf(err, "can't subscribe via 0x%04X", cccd)
	}
	return listen(central, c.Duration("duration"))
}

func cmdArm(c *cli.Context) error {
	central, err := connect(c)
	if err != nil {
		return err
	}
	defer central.Close()

	cache, err := central.Discover()
	if err != nil {
		return errors.Wrap(err, "can't discover")
	}
	svc, ok := cache.FindService(gatts.DataServiceUUID())
	if !ok {
		return errNoData
	}
	chars := cache.Characteristics[svc.StartHandle]
	if len(chars) < 2 {
		return errors.Wrapf(errNoData, "%d characteristics", len(chars))
	}
	tx, rx := chars[0], chars[1]
	cccd, ok := cache.DescriptorHandle(tx.ValueHandle, gatt.UUIDClientCharacteristicConfig)
	if !ok {
		return errors.Errorf("no CCCD under 0x%04X", tx.ValueHandle)
	}

	if err := central.WriteCommand(rx.ValueHandle, gatts.StartSignature()); err != nil {
		return errors.Wrap(err, "can't send start command")
	}
	if err := central.Subscribe(cccd, true, false); err != nil {
		return errors.Wrap(err, "can't enable notifications")
	}
	return listen(central, c.Duration("duration"))
}

// listen prints pushed values until d elapses, a signal arrives or the
// link drops.
func listen(central *wire.Central, d time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, d)
	defer cancel()

	count := 0
	start := time.Now()
	for {
		select {
		case n, ok := <-central.Notifications():
			if !ok {
				return errors.New("link closed")
			}
			count++
			kind := "N"
			if n.Indicate {
				kind = "I"
			}
			fmt.Printf("%s 0x%04X [% X]\n", kind, n.Handle, n.Value)
		case <-ctx.Done():
			fmt.Printf("%d values in %s\n", count, time.Since(start).Round(time.Millisecond))
			return nil
		}
	}
}

func propString(p uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{gatt.PropBroadcast, "B"},
		{gatt.PropRead, "R"},
		{gatt.PropWriteWithoutResponse, "w"},
		{gatt.PropWrite, "W"},
		{gatt.PropNotify, "N"},
		{gatt.PropIndicate, "I"},
		{gatt.PropAuthenticatedSignedWrites, "S"},
		{gatt.PropExtendedProperties, "E"},
	}
	s := ""
	for _, n := range names {
		if p&n.bit != 0 {
			s += n.name
		}
	}
	if s == "" {
		return "-"
	}
	return s
}
