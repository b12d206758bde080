package parking

import "fmt"

// Compatibility lists, per vehicle class, the slot tags to try in order.
type Compatibility map[SizeClass][]SizeClass

func DefaultCompatibility() Compatibility {
	return Compatibility{
		SizeCompact:   {SizeCompact, SizeStandard, SizeOversized},
		SizeStandard:  {SizeStandard, SizeOversized},
		SizeOversized: {SizeOversized, SizeEV},
		SizeEV:        {SizeEV, SizeStandard},
	}
}

// Validate requires every class to start with its own tag and reference
// only known tags, each at most once.
func (c Compatibility) Validate() error {
	for class, tags := range c {
		if !class.Valid() {
			return fmt.Errorf("%w: compatibility: unknown class %q", ErrInvalidInput, class)
		}
		if len(tags) == 0 || tags[0] != class {
			return fmt.Errorf("%w: compatibility: %s must list itself first", ErrInvalidInput, class)
		}
		seen := make(map[SizeClass]bool, len(tags))
		for _, tag := range tags {
			if !tag.Valid() {
				return fmt.Errorf("%w: compatibility: %s lists unknown tag %q", ErrInvalidInput, class, tag)
			}
			if seen[tag] {
				return fmt.Errorf("%w: compatibility: %s lists %s twice", ErrInvalidInput, class, tag)
			}
			seen[tag] = true
		}
	}
	return nil
}

// Tags returns the fallback order for class. Classes missing from the table
// only match their own tag.
func (c Compatibility) Tags(class SizeClass) []SizeClass {
	if tags, ok := c[class]; ok {
		return tags
	}
	return []SizeClass{class}
}

type searchPass struct {
	tag  SizeClass
	zone string
}

// searchPlan expands a class and an optional preferred zone into ordered
// candidate passes. Zone-restricted passes come first; when relaxZone is set
// the same tags are then tried lot-wide.
func (c Compatibility) searchPlan(class SizeClass, zone string, relaxZone bool) []searchPass {
	tags := c.Tags(class)

	var plan []searchPass
	for _, tag := range tags {
		plan = append(plan, searchPass{tag: tag, zone: zone})
	}
	if zone != "" && relaxZone {
		for _, tag := range tags {
			plan = append(plan, searchPass{tag: tag})
		}
	}
	return plan
}
