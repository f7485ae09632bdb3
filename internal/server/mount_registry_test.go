package server

import (
	"testing"

	"github.com/spf13/afero"
)

func TestMountRegistryLongestPrefixWins(t *testing.T) {
	fsys := afero.NewMemMapFs()
	registry, err := NewMountRegistry(
		newMemMount(t, "root", "/", fsys),
		newMemMount(t, "assets", "/assets", fsys),
		newMemMount(t, "images", "/assets/img", fsys),
	)
	if err != nil {
		t.Fatalf("NewMountRegistry error: %v", err)
	}

	testCases := []struct {
		path      string
		wantMount string
		wantRel   string
	}{
		{"/assets/img/logo.png", "images", "logo.png"},
		{"/assets/img", "images", ""},
		{"/assets/imgx/logo.png", "assets", "imgx/logo.png"},
		{"/assets/app.js", "assets", "app.js"},
		{"/assetsx/app.js", "root", "assetsx/app.js"},
		{"/index.html", "root", "index.html"},
		{"", "root", ""},
	}

	for _, tc := range testCases {
		mount, rel, ok := registry.Lookup(tc.path)
		if !ok {
			t.Fatalf("lookup %q failed", tc.path)
		}
		if mount.Name() != tc.wantMount || rel != tc.wantRel {
			t.Fatalf("lookup %q = (%s, %q), want (%s, %q)", tc.path, mount.Name(), rel, tc.wantMount, tc.wantRel)
		}
	}
}

func TestMountRegistryWithoutRootMount(t *testing.T) {
	registry, err := NewMountRegistry(newMemMount(t, "assets", "/assets", afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("NewMountRegistry error: %v", err)
	}
	if _, _, ok := registry.Lookup("/other/file"); ok {
		t.Fatalf("unmatched path should not resolve")
	}
	if mount, ok := registry.Get("assets"); !ok || mount.Prefix() != "/assets" {
		t.Fatalf("Get should find mount by name")
	}
	if len(registry.List()) != 1 {
		t.Fatalf("List should return configured mounts")
	}
}

func TestMountRegistryRejectsDuplicates(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if _, err := NewMountRegistry(
		newMemMount(t, "a", "/x", fsys),
		newMemMount(t, "a", "/y", fsys),
	); err == nil {
		t.Fatalf("duplicate names should fail")
	}
	if _, err := NewMountRegistry(
		newMemMount(t, "a", "/x", fsys),
		newMemMount(t, "b", "/x", fsys),
	); err == nil {
		t.Fatalf("duplicate prefixes should fail")
	}
	if _, err := NewMountRegistry(&Mount{}); err == nil {
		t.Fatalf("mount without cache should fail")
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *MountRegistry
	if _, _, ok := registry.Lookup("/a"); ok {
		t.Fatalf("nil registry should not resolve")
	}
	if registry.List() != nil {
		t.Fatalf("nil registry should list nothing")
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("nil registry close: %v", err)
	}
}
