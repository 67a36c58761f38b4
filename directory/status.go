package directory

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"streamlink/models"
	"streamlink/transport"
)

// UpdateHost refreshes a host's reachability and capability fields from its
// server-info endpoint. The request is made over HTTPS first and retried once
// over plain HTTP when the host answers with an authorization-class error.
//
// Discovery is paused for the host while the request is in flight. On
// failure the host is left unchanged and the error is returned for logging.
func (d *Directory) UpdateHost(ctx context.Context, uuid string) error {
	target, err := d.beginHostOp(uuid, true)
	if err != nil {
		return err
	}

	var observed models.Host
	info, encrypted, err := d.fetchServerInfo(ctx, target)
	if err == nil {
		observed = observation(info, target.Address, encrypted)
		if observed.UUID != "" && observed.UUID != uuid {
			err = fmt.Errorf("address %s answered for host %s", target.Address, observed.UUID)
		}
	}
	if err != nil {
		d.endHostOp(uuid, true, nil)
		d.logger.Warn("Host status refresh failed", "host", uuid, "err", err)
		return fmt.Errorf("refresh host %s: %w", uuid, err)
	}

	snapshot, changed := d.endHostOp(uuid, true, &observed)
	if changed {
		d.persistIfStored(snapshot)
	}
	return nil
}

func (d *Directory) fetchServerInfo(ctx context.Context, target transport.Target) (*transport.ServerInfo, bool, error) {
	info, err := d.client.ServerInfo(ctx, target, true)
	if err == nil {
		return info, true, nil
	}
	if !d.isAuthErr(err) {
		return nil, false, err
	}

	d.logger.Debug("Retrying server info over HTTP", "address", target.Address, "err", err)
	info, err = d.client.ServerInfo(ctx, target, false)
	if err != nil {
		return nil, false, err
	}
	return info, false, nil
}

// QuitApp asks the host to stop its running app and then refreshes its
// status.
func (d *Directory) QuitApp(ctx context.Context, uuid string) error {
	target, err := d.beginHostOp(uuid, false)
	if err != nil {
		return err
	}

	err = d.client.QuitApp(ctx, target)
	d.endHostOp(uuid, false, nil)
	if err != nil {
		return fmt.Errorf("quit app on host %s: %w", uuid, err)
	}

	if err := d.UpdateHost(ctx, uuid); err != nil {
		d.logger.Debug("Status refresh after quit failed", "host", uuid, "err", err)
	}
	return nil
}

// RefreshAll updates every known host concurrently and returns the first
// failure. Every host is attempted.
func (d *Directory) RefreshAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.refreshLimit)

	for _, host := range d.Hosts() {
		g.Go(func() error {
			return d.UpdateHost(ctx, host.UUID)
		})
	}

	return g.Wait()
}

// beginHostOp pauses discovery for the host and returns the request target.
// With pending set the host is flagged as UpdatePending.
func (d *Directory) beginHostOp(uuid string, pending bool) (transport.Target, error) {
	var (
		target transport.Target
		found  bool
	)
	err := d.exec(func() {
		host := d.find(uuid)
		if host == nil {
			return
		}
		found = true
		d.paused[uuid]++
		if pending && !host.UpdatePending {
			host.UpdatePending = true
			d.emit(EventHostUpdated, host)
		}
		target = transport.TargetFor(host)
		target.ServerCert = bytes.Clone(target.ServerCert)
	})
	if err != nil {
		return transport.Target{}, err
	}
	if !found {
		return transport.Target{}, fmt.Errorf("%s: %w", uuid, ErrHostNotFound)
	}
	return target, nil
}

// endHostOp resumes discovery for the host and applies observed, if any. It
// returns a snapshot and whether observed changed the host.
func (d *Directory) endHostOp(uuid string, pending bool, observed *models.Host) (models.Host, bool) {
	var (
		snapshot models.Host
		changed  bool
	)
	_ = d.exec(func() {
		d.resume(uuid)
		host := d.find(uuid)
		if host == nil {
			return
		}
		notify := false
		if pending && host.UpdatePending {
			host.UpdatePending = false
			notify = true
		}
		if observed != nil && host.Merge(*observed) {
			changed, notify = true, true
		}
		if notify {
			d.emit(EventHostUpdated, host)
		}
		snapshot = host.Clone()
	})
	return snapshot, changed
}
