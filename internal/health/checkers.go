package health

import (
	"context"
	"fmt"

	"github.com/adnsalim/murattil/internal/store"
)

// StoreChecker reports ready when the content store answers a lightweight
// read. A closed or unopened store fails the probe.
func StoreChecker(st store.ContentStore) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if _, err := st.Keys(ctx, store.RegionPreference); err != nil {
				return fmt.Errorf("store not ready: %w", err)
			}
			return nil
		},
	}
}

// DeviceChecker reports whether capture access has been granted. granted is
// queried per probe so a later grant flips the check without restart.
func DeviceChecker(granted func() bool) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if !granted() {
				return fmt.Errorf("capture access not granted")
			}
			return nil
		},
	}
}
