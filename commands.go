package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"streamlink/crypto"
	"streamlink/directory"
	"streamlink/models"
	"streamlink/pairing"
	"streamlink/session"
	"streamlink/storage"
	"streamlink/transport"
)

func (a *app) host(query string) (models.Host, error) {
	return findHost(a.dir.Hosts(), query)
}

func listHosts(ctx context.Context, a *app, cmd *cli.Command) error {
	if scan := cmd.Duration("scan"); scan > 0 {
		if err := a.dir.StartDiscovery(); err != nil {
			return err
		}
		select {
		case <-time.After(scan):
		case <-ctx.Done():
		}
		a.dir.StopDiscoveryBlocking()
	}

	if !cmd.Bool("offline") {
		if err := a.dir.RefreshAll(ctx); err != nil {
			a.logger.Debug("Some hosts could not be refreshed", "err", err)
		}
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tName\tAddress\tState\tPairing\tRunning")
	for _, host := range a.dir.Hosts() {
		running := "-"
		if host.CurrentGame != "" {
			running = host.CurrentGame
			if app, ok := host.App(host.CurrentGame); ok {
				running = app.Name
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", host.UUID, host.Name, host.ActiveAddress, host.State, host.PairState, running)
	}
	return w.Flush()
}

func addHost(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}

	host, err := a.dir.AddHost(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	if err := a.dir.SaveHost(host.UUID); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Added %s (%s) at %s\n", host.Name, host.UUID, host.ActiveAddress)
	return nil
}

func pairHost(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().First())
	if err != nil {
		return err
	}

	state, err := a.pairing.Pair(ctx, host.UUID, func(pin string) {
		fmt.Fprintf(a.stdout, "Enter PIN %s on %s\n", pin, host.Name)
	})
	if err != nil {
		return fmt.Errorf("pair with %s: %w", host.Name, err)
	}

	switch state {
	case pairing.StateAlreadyPaired:
		fmt.Fprintf(a.stdout, "Already paired with %s\n", host.Name)
	default:
		fmt.Fprintf(a.stdout, "Paired with %s\n", host.Name)
	}
	if paired, ok := a.dir.Host(host.UUID); ok {
		fmt.Fprintf(a.stdout, "Host certificate fingerprint: %s\n", hostFingerprint(paired))
	}
	return nil
}

// hostFingerprint formats the fingerprint of the certificate pinned for host,
// or "-" when none is pinned.
func hostFingerprint(host models.Host) string {
	if len(host.ServerCert) == 0 {
		return "-"
	}
	cert, err := crypto.ParseCertificatePEM(host.ServerCert)
	if err != nil {
		return "-"
	}
	return crypto.FormatFingerprint(crypto.CertFingerprint(cert.Raw))
}

func showIdentity(_ context.Context, a *app, _ *cli.Command) error {
	fmt.Fprintf(a.stdout, "Device: %s\n", a.identity.Certificate.Subject.CommonName)
	fmt.Fprintf(a.stdout, "Unique ID: %s\n", a.cfg.UniqueID)
	fmt.Fprintf(a.stdout, "Fingerprint: %s\n", crypto.FormatFingerprint(a.identity.Fingerprint()))
	fmt.Fprintf(a.stdout, "Certificate: %s\n", a.cfg.Identity.CertPath)
	return nil
}

func unpairHost(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().First())
	if err != nil {
		return err
	}

	if err := a.client.Unpair(ctx, transport.TargetFor(&host)); err != nil {
		a.logger.Warn("Host did not acknowledge unpair", "host", host.UUID, "err", err)
	}
	if err := a.dir.ClearServerCert(host.UUID); err != nil {
		return err
	}
	if err := a.store.LogPairingEvent(storage.PairingEvent{HostUUID: host.UUID, Outcome: storage.PairingOutcomeUnpaired}); err != nil {
		a.logger.Warn("Failed to record pairing event", "err", err)
	}

	fmt.Fprintf(a.stdout, "Unpaired from %s\n", host.Name)
	return nil
}

func listApps(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().First())
	if err != nil {
		return err
	}

	if err := a.dir.RefreshApps(ctx, host.UUID); err != nil {
		a.logger.Warn("Showing saved app list", "err", err)
	}
	host, _ = a.dir.Host(host.UUID)

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tName\tHDR\tHidden")
	for _, app := range host.Apps {
		if app.Hidden && !cmd.Bool("all") {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", app.ID, app.Name, app.HDRSupported, app.Hidden)
	}
	return w.Flush()
}

func hideApp(_ context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().Get(0))
	if err != nil {
		return err
	}
	app, err := findApp(host, cmd.Args().Get(1))
	if err != nil {
		return err
	}

	return a.dir.SetAppHidden(host.UUID, app.ID, !cmd.Bool("undo"))
}

func launchApp(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().Get(0))
	if err != nil {
		return err
	}
	if host.PairState != models.PairStatePaired {
		return fmt.Errorf("%s is not paired, run pair first", host.Name)
	}

	app, err := findApp(host, cmd.Args().Get(1))
	if err != nil {
		if refreshErr := a.dir.RefreshApps(ctx, host.UUID); refreshErr != nil {
			return errors.Join(err, refreshErr)
		}
		host, _ = a.dir.Host(host.UUID)
		if app, err = findApp(host, cmd.Args().Get(1)); err != nil {
			return err
		}
	}

	settings, err := a.store.GetSettings()
	if err != nil {
		return err
	}
	if settings.UniqueID == "" {
		settings.UniqueID = a.cfg.UniqueID
	}

	tracker := a.tracker(session.StaticCapabilities{
		HEVC:  cmd.Bool("hevc"),
		AV1:   cmd.Bool("av1"),
		HDR10: cmd.Bool("hdr10"),
	})
	desc, err := tracker.Launch(host, app, settings)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(a.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(<-tracker.NowStreaming()); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	a.logger.Debug("Session handed off", "host", desc.HostUUID, "app", desc.AppID)
	return enc.Close()
}

func quitApp(ctx context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().First())
	if err != nil {
		return err
	}

	return a.dir.QuitApp(ctx, host.UUID)
}

func removeHost(_ context.Context, a *app, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	host, err := a.host(cmd.Args().First())
	if err != nil {
		return err
	}

	if err := a.dir.RemoveHost(host.UUID); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Removed %s\n", host.Name)
	return nil
}

func watchHosts(ctx context.Context, a *app, _ *cli.Command) error {
	events := a.dir.Subscribe()
	defer a.dir.Unsubscribe(events)

	if err := a.dir.StartDiscovery(); err != nil {
		return err
	}
	defer a.dir.StopDiscoveryBlocking()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Type == directory.EventAppsChanged {
				fmt.Fprintf(a.stdout, "%s\t%s\t%d apps\n", evt.Type, evt.Host.Name, len(evt.Host.Apps))
				continue
			}
			fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\t%s\n", evt.Type, evt.Host.Name, evt.Host.ActiveAddress, evt.Host.State, evt.Host.PairState)
		}
	}
}

func pairingHistory(_ context.Context, a *app, cmd *cli.Command) error {
	var hostUUID string
	if cmd.NArg() > 0 {
		host, err := a.host(cmd.Args().First())
		if err != nil {
			return err
		}
		hostUUID = host.UUID
	}

	events, err := a.store.GetPairingEvents(hostUUID, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tHost\tOutcome\tDetails")
	for _, evt := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", time.UnixMilli(evt.Timestamp).Format(time.RFC3339), evt.HostUUID, evt.Outcome, evt.Details)
	}
	return w.Flush()
}

func showSettings(_ context.Context, a *app, _ *cli.Command) error {
	settings, err := a.store.GetSettings()
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(a.stdout)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(settings)
}

func setSettings(_ context.Context, a *app, cmd *cli.Command) error {
	settings, err := a.store.GetSettings()
	if err != nil {
		return err
	}

	ints := map[string]*int32{
		"bitrate": &settings.Bitrate,
		"fps":     &settings.Framerate,
		"width":   &settings.Width,
		"height":  &settings.Height,
	}
	for name, field := range ints {
		if cmd.IsSet(name) {
			*field = cmd.Int32(name)
		}
	}

	bools := map[string]*bool{
		"hdr":              &settings.EnableHDR,
		"frame-pacing":     &settings.UseFramePacing,
		"multi-controller": &settings.MultiController,
		"audio-on-pc":      &settings.PlayAudioOnPC,
		"optimize-games":   &settings.OptimizeGames,
	}
	for name, field := range bools {
		if cmd.IsSet(name) {
			*field = cmd.Bool(name)
		}
	}

	if cmd.IsSet("codec") {
		codec, ok := models.ParsePreferredCodec(cmd.String("codec"))
		if !ok {
			return fmt.Errorf("unknown codec %q", cmd.String("codec"))
		}
		settings.PreferredCodec = codec
	}

	return a.store.SaveSettings(settings)
}
