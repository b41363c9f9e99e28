package metastore

import "gorm.io/gorm/clause"

// onConflictDoNothing makes a Create idempotent on the row's primary key,
// used by the set and chunk-ref "add" operations so re-adding an already
// present member is a no-op rather than a unique-constraint error.
func onConflictDoNothing() clause.Expression {
	return clause.OnConflict{DoNothing: true}
}
