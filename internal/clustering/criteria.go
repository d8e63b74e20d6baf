package clustering

import (
	"errors"
	"fmt"
)

// Family is a clustering algorithm family.
type Family string

const (
	KMeans       Family = "kmeans"
	Hierarchical Family = "hierarchical"
	GMM          Family = "gmm"
	Spectral     Family = "spectral"
	DBSCAN       Family = "dbscan"
)

// Families lists every supported family.
var Families = []Family{KMeans, Hierarchical, GMM, Spectral, DBSCAN}

// Criterion is a validity criterion used to rank grid candidates.
type Criterion string

const (
	Silhouette       Criterion = "silhouette"
	DaviesBouldin    Criterion = "davies-bouldin"
	CalinskiHarabasz Criterion = "calinski-harabasz"
	GapStatistic     Criterion = "gap"
	BIC              Criterion = "bic"
	AIC              Criterion = "aic"
	LogLikelihood    Criterion = "log-likelihood"
	KDistance        Criterion = "k-distance"
)

// Direction says whether a criterion is maximised or minimised.
type Direction int

const (
	Maximize Direction = iota + 1
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "min"
	}
	return "max"
}

// better reports whether candidate strictly beats incumbent.
func (d Direction) better(candidate, incumbent float64) bool {
	if d == Minimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}

var (
	// ErrUnknownFamily is returned for an unrecognised family name.
	ErrUnknownFamily = errors.New("unknown clustering family")
	// ErrUnsupportedCriterion is returned when a family cannot be ranked by a criterion.
	ErrUnsupportedCriterion = errors.New("criterion not supported for family")
)

// Spectral deliberately ranks Calinski-Harabasz low-is-best and
// Davies-Bouldin high-is-best.
var directions = map[Family]map[Criterion]Direction{
	KMeans: {
		Silhouette:       Maximize,
		DaviesBouldin:    Minimize,
		CalinskiHarabasz: Maximize,
		GapStatistic:     Maximize,
	},
	Hierarchical: {
		Silhouette:       Maximize,
		DaviesBouldin:    Minimize,
		CalinskiHarabasz: Maximize,
		GapStatistic:     Maximize,
	},
	GMM: {
		BIC:           Minimize,
		AIC:           Minimize,
		LogLikelihood: Maximize,
		Silhouette:    Maximize,
	},
	Spectral: {
		Silhouette:       Maximize,
		CalinskiHarabasz: Minimize,
		DaviesBouldin:    Maximize,
	},
	DBSCAN: {
		Silhouette: Maximize,
		KDistance:  Maximize,
	},
}

// DirectionFor returns the optimisation direction of criterion c for family f.
func DirectionFor(f Family, c Criterion) (Direction, error) {
	byCriterion, ok := directions[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}
	d, ok := byCriterion[c]
	if !ok {
		return 0, fmt.Errorf("%w: %q with %q", ErrUnsupportedCriterion, c, f)
	}
	return d, nil
}

// ParseFamily validates a family name.
func ParseFamily(name string) (Family, error) {
	f := Family(name)
	if _, ok := directions[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, name)
	}
	return f, nil
}

// ParseCriterion validates a criterion against a family. Empty means
// silhouette, which every family supports.
func ParseCriterion(f Family, name string) (Criterion, error) {
	c := Criterion(name)
	if name == "" {
		c = Silhouette
	}
	if _, err := DirectionFor(f, c); err != nil {
		return "", err
	}
	return c, nil
}
