package installation

import "testing"

func TestNewDefaultsRoot(t *testing.T) {
	i := New("")
	if i.Root != "/" {
		t.Fatalf("got root %q, want \"/\"", i.Root)
	}
}

func TestPaths(t *testing.T) {
	i := New("/srv/moss")

	if got, want := i.MetaDBPath(), "/srv/moss/var/lib/moss/db/meta.db"; got != want {
		t.Errorf("MetaDBPath() = %q, want %q", got, want)
	}
	if got, want := i.StateDBPath(), "/srv/moss/var/lib/moss/db/state.db"; got != want {
		t.Errorf("StateDBPath() = %q, want %q", got, want)
	}
	if got, want := i.RemoteDBPath("volatile"), "/srv/moss/var/lib/moss/remotes/volatile/db"; got != want {
		t.Errorf("RemoteDBPath() = %q, want %q", got, want)
	}
	if got, want := i.RemoteCachePath("volatile"), "/srv/moss/var/lib/moss/remotes/volatile/cache/stone.index"; got != want {
		t.Errorf("RemoteCachePath() = %q, want %q", got, want)
	}
}
