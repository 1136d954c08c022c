// Package panel serves the relay control web UI.
//
// Assets come from a directory on disk when one is configured (the
// "public" directory by default) and otherwise from a small page compiled
// into the binary, so a bare install still has a working UI. The embedded
// page lists the relays from GET /data?initial_event=1, follows changes
// through the GET /data long-poll and toggles relays with POST /data.
package panel
