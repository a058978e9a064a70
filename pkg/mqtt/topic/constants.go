package topic

// Topic levels and filter wildcards.
const (
	// Separator divides topic levels.
	Separator = "/"

	// Wildcard matches exactly one level: parking/v1/spot-update/+ matches
	// the spot updates of every lot.
	Wildcard = "+"

	// MultiWildcard matches the remaining levels. It must be the last level.
	MultiWildcard = "#"
)
