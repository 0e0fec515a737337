// cmd/attest exports audit ledger segments with signed manifests and
// verifies them offline. Verification needs only the segment file, its
// manifest and the public key — no database access.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yourorg/warrant/internal/attest"
	"github.com/yourorg/warrant/internal/config"
	"github.com/yourorg/warrant/internal/db"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch os.Args[1] {
	case "export":
		runExport(ctx, os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "continuity":
		runContinuity(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  attest export -from N -to N [-out DIR]     export a segment and its signed manifest
  attest verify -segment FILE -manifest FILE verify one segment offline
  attest continuity MANIFEST...              check a manifest set for coverage gaps`)
	os.Exit(2)
}

func runExport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	from := fs.Int64("from", 1, "first sequence number")
	to := fs.Int64("to", 0, "last sequence number (inclusive)")
	out := fs.String("out", ".", "output directory")
	fs.Parse(args) //nolint:errcheck

	if *to < *from {
		log.Fatalf("export: -to %d must be >= -from %d", *to, *from)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	kp, err := keys.NewProvider(cfg.TicketPrivateKey, cfg.TicketPublicKey, cfg.ResultHMACSecret)
	if err != nil {
		log.Fatalf("key material: %v", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	sink := &ledger.Sink{Pool: pool}
	jsonl, records, err := sink.ExportSegment(ctx, cfg.AuditChainID, *from, *to)
	if err != nil {
		log.Fatalf("export segment: %v", err)
	}

	segmentName := fmt.Sprintf("%s-%06d-%06d", cfg.AuditChainID, *from, *to)
	manifest, err := attest.BuildManifest(segmentName, jsonl, records, kp)
	if err != nil {
		log.Fatalf("build manifest: %v", err)
	}
	manifestBytes, err := manifest.Marshal()
	if err != nil {
		log.Fatalf("marshal manifest: %v", err)
	}

	segmentPath := filepath.Join(*out, segmentName+".jsonl")
	manifestPath := filepath.Join(*out, segmentName+".manifest.json")
	if err := os.WriteFile(segmentPath, jsonl, 0o644); err != nil {
		log.Fatalf("write segment: %v", err)
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		log.Fatalf("write manifest: %v", err)
	}

	log.Printf("exported %d records to %s (digest %s, key %s)",
		len(records), segmentPath, manifest.Digest, manifest.KeyFingerprint)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	segmentPath := fs.String("segment", "", "segment JSONL file")
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	fs.Parse(args) //nolint:errcheck

	if *segmentPath == "" || *manifestPath == "" {
		log.Fatal("verify: -segment and -manifest are required")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	kp, err := keys.NewProvider("", cfg.TicketPublicKey, "")
	if err != nil {
		log.Fatalf("key material: %v", err)
	}

	jsonl, err := os.ReadFile(*segmentPath)
	if err != nil {
		log.Fatalf("read segment: %v", err)
	}
	manifest, err := readManifest(*manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}

	report := attest.VerifySegment(jsonl, manifest, kp.Public())
	printReport(report, *segmentPath)
}

func runContinuity(args []string) {
	if len(args) == 0 {
		log.Fatal("continuity: at least one manifest file is required")
	}
	manifests := make([]attest.Manifest, 0, len(args))
	for _, path := range args {
		m, err := readManifest(path)
		if err != nil {
			log.Fatalf("read manifest %s: %v", path, err)
		}
		manifests = append(manifests, m)
	}
	report := attest.VerifySegmentContinuity(manifests)
	printReport(report, fmt.Sprintf("%d manifests", len(manifests)))
}

func readManifest(path string) (attest.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return attest.Manifest{}, err
	}
	var m attest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return attest.Manifest{}, err
	}
	return m, nil
}

func printReport(report attest.Report, subject string) {
	if report.OK {
		log.Printf("OK: %s verified", subject)
		return
	}
	for _, f := range report.Failures {
		log.Printf("FAIL: %s", f)
	}
	os.Exit(1)
}
