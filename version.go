package bsonmap

import (
	"fmt"

	driverversion "go.mongodb.org/mongo-driver/version"
)

// Version is the release of this module.
const Version = "v0.1.0"

// VersionString returns the package version and the driver it reads and
// writes BSON with.
func VersionString() string {
	return fmt.Sprintf("%s (mongo-driver %s)", Version, driverversion.Driver)
}
