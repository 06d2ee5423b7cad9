package parammap

// Assoc returns a copy of m in which key is bound to the single value v.
// Every other binding is left untouched. A key m does not bind is appended,
// so an override always takes effect.
func Assoc(key, v string, m Map) Map {
	return AssocValues(key, Singleton(v), m)
}

// AssocValues is Assoc for a multi-valued binding
func AssocValues(key string, values Values, m Map) Map {
	return m.With(key, values)
}

// AssocAll applies Assoc to every map of a configuration vector and returns
// the new vector. The input vector is not modified.
func AssocAll(key, v string, maps []Map) []Map {
	out := make([]Map, len(maps))
	for i, m := range maps {
		out[i] = Assoc(key, v, m)
	}
	return out
}

// Merge applies every binding of overrides on top of m
func Merge(m Map, overrides Map) Map {
	out := m
	for _, e := range overrides.Entries() {
		out = AssocValues(e.Key, e.Values, out)
	}
	return out
}

// MergeVector applies overrides[i] to maps[i]. Extra overrides are ignored;
// maps without a matching override are copied unchanged.
func MergeVector(maps []Map, overrides []Map) []Map {
	out := make([]Map, len(maps))
	for i, m := range maps {
		if i < len(overrides) {
			out[i] = Merge(m, overrides[i])
		} else {
			out[i] = m.Clone()
		}
	}
	return out
}

// NearestNeighbor forces nearest-neighbor resampling on every transform map.
// Label images must be moved this way so no fractional labels are invented.
func NearestNeighbor(maps []Map) []Map {
	return AssocAll(KeyResampleInterpolator, NearestNeighborInterpolator, maps)
}

// AutoInit asks the engine to pre-initialize every stage itself
func AutoInit(maps []Map) []Map {
	return AssocAll(KeyAutomaticTransformInit, "true", maps)
}
