package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"streamlink/models"
	"streamlink/storage"
)

// RefreshApps fetches the host's app list and reconciles it with the local
// collection. Apps the host no longer reports are removed from the directory
// and from the persistent store.
func (d *Directory) RefreshApps(ctx context.Context, uuid string) error {
	target, err := d.beginHostOp(uuid, false)
	if err != nil {
		return err
	}
	infos, err := d.client.AppList(ctx, target)
	d.endHostOp(uuid, false, nil)
	if err != nil {
		return fmt.Errorf("fetch app list for host %s: %w", uuid, err)
	}

	fresh := make([]*models.App, 0, len(infos))
	for _, info := range infos {
		fresh = append(fresh, info.App())
	}

	var (
		found    bool
		snapshot models.Host
		removed  []string
	)
	err = d.exec(func() {
		host := d.find(uuid)
		if host == nil {
			return
		}
		found = true

		before := host.Clone().Apps
		merged, gone := MergeApps(host.Apps, fresh, uuid)
		host.Apps = merged
		for _, app := range gone {
			removed = append(removed, app.ID)
		}

		snapshot = host.Clone()
		if len(gone) > 0 || !slices.EqualFunc(before, snapshot.Apps, func(a, b *models.App) bool { return *a == *b }) {
			d.emit(EventAppsChanged, host)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", uuid, ErrHostNotFound)
	}

	for _, appID := range removed {
		if err := d.store.RemoveApp(uuid, appID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("Failed to remove app", "host", uuid, "app", appID, "err", err)
		}
	}

	stored, err := d.store.HasHost(uuid)
	if err != nil {
		return fmt.Errorf("check saved host %s: %w", uuid, err)
	}
	if stored {
		if err := d.store.UpdateApps(uuid, snapshot.Apps); err != nil {
			return fmt.Errorf("save apps for host %s: %w", uuid, err)
		}
	}

	return nil
}

// MergeApps reconciles a host's local apps with a fresh list reported by the
// host.
//
// The result follows the order of fresh and is unique by id. A local app
// whose id is reported again is kept as the same object with its name and
// HDR flag updated, so its Hidden flag survives. Unknown ids are adopted as
// new apps owned by hostUUID. Local apps missing from fresh are returned as
// removed, once per id, with their owner reference cleared.
func MergeApps(local, fresh []*models.App, hostUUID string) (merged, removed []*models.App) {
	byID := make(map[string]*models.App, len(local))
	for _, app := range local {
		if _, dup := byID[app.ID]; !dup {
			byID[app.ID] = app
		}
	}

	seen := make(map[string]struct{}, len(fresh))
	merged = make([]*models.App, 0, len(fresh))
	for _, app := range fresh {
		if app == nil || app.ID == "" {
			continue
		}
		if _, dup := seen[app.ID]; dup {
			continue
		}
		seen[app.ID] = struct{}{}

		if existing, ok := byID[app.ID]; ok {
			existing.Name = app.Name
			existing.HDRSupported = app.HDRSupported
			existing.HostUUID = hostUUID
			merged = append(merged, existing)
			continue
		}

		adopted := *app
		adopted.HostUUID = hostUUID
		merged = append(merged, &adopted)
	}

	for _, app := range local {
		if _, kept := seen[app.ID]; kept {
			continue
		}
		seen[app.ID] = struct{}{}
		app.HostUUID = ""
		removed = append(removed, app)
	}

	return merged, removed
}
