// Command studio runs and controls the studio daemon.
//
// "studio serve" runs the daemon in the foreground; "studio start" launches it
// detached. Queue, gallery and stats commands talk to the daemon API when it
// is reachable and otherwise read the queue database and output directories
// directly, so listing and clearing the queue works while the daemon is down.
// "studio monitor" is a live terminal view fed by the daemon's event stream,
// and "studio logs" reads the daemon's JSON log file.
package main
