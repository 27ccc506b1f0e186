package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// countingRepo counts device lookups that reach the repository.
type countingRepo struct {
	Repository
	mu      sync.Mutex
	lookups int
}

func (c *countingRepo) GetByDeviceID(ctx context.Context, id string) (*Device, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.Repository.GetByDeviceID(ctx, id)
}

func (c *countingRepo) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

func newTestRegistry(t *testing.T) (*Registry, *countingRepo) {
	t.Helper()
	repo, _ := newTestRepo(t)
	counting := &countingRepo{Repository: repo}
	return NewRegistry(counting), counting
}

func TestEnsureDeviceRegistersOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d, created, err := reg.EnsureDevice(ctx, Device{DeviceID: "node_7", Name: "Bench", Wifi: "lab-ap"})
	if err != nil || !created {
		t.Fatalf("EnsureDevice() = %v, %v", created, err)
	}
	if d.Type != DefaultType || d.Location != DefaultLocation || d.Wifi != "lab-ap" {
		t.Errorf("registered = %+v", d)
	}

	again, created, err := reg.EnsureDevice(ctx, Device{DeviceID: "node_7", Name: "Renamed"})
	if err != nil || created {
		t.Fatalf("second EnsureDevice() = %v, %v", created, err)
	}
	if again.ID != d.ID || again.Name != "Bench" {
		t.Errorf("second call = %+v, want existing device unchanged", again)
	}
}

func TestEnsureDeviceConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[int64]bool{}
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, created, err := reg.EnsureDevice(ctx, Device{DeviceID: "node_9"})
			if err != nil {
				t.Errorf("EnsureDevice() error = %v", err)
				return
			}
			mu.Lock()
			ids[d.ID] = true
			if created {
				createdCount++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 || createdCount != 1 {
		t.Errorf("ids=%v created=%d, want one device created once", ids, createdCount)
	}
}

func TestRegistryCachesLookups(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Create(ctx, &Device{DeviceID: "node_3"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := reg.GetByDeviceID(ctx, "node_3"); err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
	}
	if n := repo.count(); n != 0 {
		t.Errorf("repository lookups = %d, want 0 (cached)", n)
	}
	if reg.CachedCount() != 1 {
		t.Errorf("CachedCount() = %d", reg.CachedCount())
	}

	d, _ := reg.GetByDeviceID(ctx, "node_3") //nolint:errcheck // Checked above
	d.Name = "mutated"
	fresh, _ := reg.GetByDeviceID(ctx, "node_3") //nolint:errcheck // Checked above
	if fresh.Name == "mutated" {
		t.Error("registry returned its cached pointer")
	}
}

func TestRegistryFramesRequireDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.LatestFrame(ctx, 5); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("LatestFrame() error = %v", err)
	}
	if _, err := reg.FrameHistory(ctx, 5, 0, 10); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FrameHistory() error = %v", err)
	}

	d, _, err := reg.EnsureDevice(ctx, Device{DeviceID: "node_5"})
	if err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}
	if err := reg.RecordFrame(ctx, &Frame{DeviceID: d.ID, Gas: 3}); err != nil {
		t.Fatalf("RecordFrame() error = %v", err)
	}
	latest, err := reg.LatestFrame(ctx, d.ID)
	if err != nil || latest.Gas != 3 {
		t.Errorf("LatestFrame() = %+v, %v", latest, err)
	}
}

func TestRegistryAcknowledgeCommand(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.AcknowledgeCommand(ctx, "node_1", "ok"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("AcknowledgeCommand() unknown error = %v", err)
	}

	d, _, _ := reg.EnsureDevice(ctx, Device{DeviceID: "node_1"}) //nolint:errcheck // Fresh database
	if err := reg.RecordCommand(ctx, &Command{DeviceID: d.ID, Command: `{"led":1}`, Status: CommandSent}); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}
	c, err := reg.AcknowledgeCommand(ctx, "node_1", `{"led":1}`)
	if err != nil || c.Status != CommandAcknowledged {
		t.Errorf("AcknowledgeCommand() = %+v, %v", c, err)
	}
}

func BenchmarkRegistryGetByDeviceID(b *testing.B) {
	repo := NewSQLiteRepository(setupTestDB(b))
	reg := NewRegistry(repo)
	ctx := context.Background()
	if err := reg.Create(ctx, &Device{DeviceID: "node_1"}); err != nil {
		b.Fatalf("Create() error = %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.GetByDeviceID(ctx, "node_1"); err != nil {
			b.Fatal(err)
		}
	}
}
