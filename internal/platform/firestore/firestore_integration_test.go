//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/bonaevents/storefront/internal/platform/config"
	pfirestore "github.com/bonaevents/storefront/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type samplePackage struct {
	Name     string `firestore:"name"`
	Units    int    `firestore:"units"`
	Archived bool   `firestore:"archived"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	repo := pfirestore.NewBaseRepository[samplePackage](provider, "samples", nil, nil)

	if err := repo.Create(ctx, "FERRAGOSTO", samplePackage{Name: "Ferragosto", Units: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, "FERRAGOSTO", samplePackage{Name: "duplicate"})
	var cls interface{ IsConflict() bool }
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := repo.Update(ctx, "FERRAGOSTO", []firestore.Update{{Path: "units", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	doc, err := repo.Get(ctx, "FERRAGOSTO")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "FERRAGOSTO" || doc.Data.Name != "Ferragosto" || doc.Data.Units != 2 {
		t.Fatalf("unexpected document %#v", doc)
	}

	if err := repo.Set(ctx, "CAPODANNO", samplePackage{Name: "Capodanno", Units: 5}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := repo.MergeAll(ctx, []string{"FERRAGOSTO", "CAPODANNO"}, map[string]any{"archived": true}); err != nil {
		t.Fatalf("merge all failed: %v", err)
	}
	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("archived", "==", true).OrderBy("units", firestore.Desc)
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "CAPODANNO" || docs[0].Data.Units != 5 {
		t.Fatalf("expected merged documents to keep their fields, got %#v", docs)
	}

	var notFound interface{ IsNotFound() bool }
	if _, err := repo.Get(ctx, "missing"); !errors.As(err, &notFound) || !notFound.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "FERRAGOSTO")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := repo.Decode(snap)
		if err != nil {
			return err
		}
		current.Data.Units++
		return tx.Set(ref, current.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if doc, err = repo.Get(ctx, "FERRAGOSTO"); err != nil || doc.Data.Units != 3 {
		t.Fatalf("expected units=3 after transaction, got %#v (%v)", doc.Data, err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
