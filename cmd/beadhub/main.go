// beadhub is the BeadHub coordination server: a REST API over Postgres
// and Redis that tracks agent presence, issue claims, and notifications
// for fleets of autonomous agents sharing a project.
package main

import "os"

func main() {
	os.Exit(execute())
}
