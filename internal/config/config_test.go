package config

import "testing"

func TestValidateRequiresMountPoint(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error when mount_point is empty")
	}

	cfg.MountPoint = "/mnt/smfs"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with mount_point set: %v", err)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.MountPoint = "/mnt/smfs"
	cfg.LogLevel = "VERBOSE"
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error for unknown log level")
	}
}

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	if d.CacheDir != "/tmp/smfs_storage" {
		t.Errorf("default cache_dir = %q, want /tmp/smfs_storage", d.CacheDir)
	}
	want := map[string]bool{"xml": true, "m3u": true, "strm": true}
	if len(d.EnabledTypes) != len(want) {
		t.Fatalf("default enabled_types = %v", d.EnabledTypes)
	}
	for _, t2 := range d.EnabledTypes {
		if !want[t2] {
			t.Errorf("unexpected default enabled type %q", t2)
		}
	}
}
