package clustering

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/dao-analytics/internal/metrics"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// three tight, well separated voting blocs
func threeBlocs() [][]float64 {
	var rows [][]float64
	for _, c := range [][2]float64{{0, 0}, {5, 5}, {0, 5}} {
		for _, off := range [][2]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1}, {0.05, 0.05}} {
			rows = append(rows, []float64{c[0] + off[0], c[1] + off[1]})
		}
	}
	return rows
}

func newTestSelector(workers int) *Selector {
	return NewSelector(Config{Workers: workers}, nil)
}

func TestDirectionFor(t *testing.T) {
	tests := []struct {
		family    Family
		criterion Criterion
		want      Direction
	}{
		{KMeans, Silhouette, Maximize},
		{KMeans, DaviesBouldin, Minimize},
		{Hierarchical, CalinskiHarabasz, Maximize},
		{Hierarchical, GapStatistic, Maximize},
		{GMM, BIC, Minimize},
		{GMM, AIC, Minimize},
		{GMM, LogLikelihood, Maximize},
		{Spectral, CalinskiHarabasz, Minimize},
		{Spectral, DaviesBouldin, Maximize},
		{DBSCAN, KDistance, Maximize},
	}
	for _, tt := range tests {
		t.Run(string(tt.family)+"/"+string(tt.criterion), func(t *testing.T) {
			d, err := DirectionFor(tt.family, tt.criterion)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}

	_, err := DirectionFor(KMeans, BIC)
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)
	_, err = DirectionFor(Spectral, GapStatistic)
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)
	_, err = DirectionFor("optics", Silhouette)
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestParseCriterion(t *testing.T) {
	for _, f := range Families {
		c, err := ParseCriterion(f, "")
		require.NoError(t, err)
		assert.Equal(t, Silhouette, c)
	}

	_, err := ParseCriterion(DBSCAN, "gap")
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)

	_, err = ParseFamily("kmedoids")
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestKMeans_SeparatesBlocs(t *testing.T) {
	rows := threeBlocs()
	m, err := kmeans(rows, 3, 1, newRand(defaultSeed))
	require.NoError(t, err)

	assert.Equal(t, 3, ClusterCount(m.labels))
	for b := 0; b < 3; b++ {
		for i := 1; i < 5; i++ {
			assert.Equal(t, m.labels[b*5], m.labels[b*5+i])
		}
	}
	assert.Less(t, m.inertia, 0.5)

	_, err = kmeans(rows, 16, 1, newRand(defaultSeed))
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestAgglomerate_Ward(t *testing.T) {
	rows := [][]float64{{0}, {1}, {10}, {11}, {20}}
	labels, err := agglomerate(rows, 3, Ward)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1, 2}, labels)

	labels, err = agglomerate(rows, 5, Ward)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, labels)

	labels, err = agglomerate(rows, 1, Single)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, labels)
}

func TestAgglomerate_CosineLinkages(t *testing.T) {
	// two directions, different magnitudes
	rows := [][]float64{{1, 0}, {10, 0.5}, {0, 1}, {0.2, 8}}
	for _, l := range []Linkage{Complete, Average, Single} {
		labels, err := agglomerate(rows, 2, l)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0, 1, 1}, labels, string(l))
	}
}

func TestDBSCAN_LabelsAndNoise(t *testing.T) {
	rows := [][]float64{{0}, {0.5}, {1}, {10}, {10.5}, {11}, {50}}
	labels := dbscan(metrics.Pairwise(rows, metrics.Euclidean), 0.6, 2)

	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, models.NoiseLabel}, labels)
	assert.Equal(t, 2, realClusters(labels))
}

func TestKDistanceEps(t *testing.T) {
	rows := [][]float64{{0}, {0.5}, {1}, {1.5}, {2}, {40}}
	eps := kDistanceEps(metrics.Pairwise(rows, metrics.Euclidean), 2)
	assert.Greater(t, eps, 0.0)

	assert.Len(t, EpsGrid(), epsPoints)
	assert.InDelta(t, epsLow, EpsGrid()[0], 1e-12)
	assert.InDelta(t, epsHigh, EpsGrid()[epsPoints-1], 1e-9)
}

func TestGaussianMixture(t *testing.T) {
	rows := threeBlocs()
	for _, cov := range Covariances {
		g, err := fitGMM(rows, 3, cov, newRand(defaultSeed))
		require.NoError(t, err, string(cov))

		labels := g.predict(rows)
		assert.Equal(t, 3, ClusterCount(labels), string(cov))
		assert.False(t, math.IsNaN(g.score(rows)))
		assert.Less(t, g.bic(rows), math.Inf(1))
	}

	g := &gaussianMixture{k: 3, dim: 2}
	g.cov = Full
	assert.Equal(t, 3*2+2+3*3, g.numParams())
	g.cov = Tied
	assert.Equal(t, 3*2+2+3, g.numParams())
	g.cov = Diag
	assert.Equal(t, 3*2+2+6, g.numParams())
	g.cov = Spherical
	assert.Equal(t, 3*2+2+3, g.numParams())
}

func TestTrainTestSplit(t *testing.T) {
	rows := threeBlocs()
	train, test := trainTestSplit(rows, newRand(defaultSeed))
	assert.Len(t, test, 3)
	assert.Len(t, train, 12)

	train2, test2 := trainTestSplit(rows, newRand(defaultSeed))
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestSelect_KMeansSilhouette(t *testing.T) {
	res, err := newTestSelector(4).Select(context.Background(), threeBlocs(), Request{Family: KMeans, Criterion: Silhouette})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 3, res.Params.K)
	assert.Equal(t, Maximize, res.Direction)
	assert.Equal(t, 9, res.Evaluated)
}

func TestSelect_HierarchicalSilhouette(t *testing.T) {
	res, err := newTestSelector(4).Select(context.Background(), threeBlocs(), Request{Family: Hierarchical, Criterion: Silhouette})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 3, res.Params.K)
	assert.Equal(t, Ward, res.Params.Linkage)
	assert.Equal(t, 4*9, res.Evaluated)
}

func TestSelect_GapReturnsWardForHierarchical(t *testing.T) {
	rows := threeBlocs()
	sel := newTestSelector(4)

	res, err := sel.Select(context.Background(), rows, Request{Family: Hierarchical, Criterion: GapStatistic})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Ward, res.Params.Linkage)
	assert.GreaterOrEqual(t, res.Params.K, 2)

	res, err = sel.Select(context.Background(), rows, Request{Family: KMeans, Criterion: GapStatistic})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, KMeans, res.Params.Family)
}

func TestSelect_DeterministicAcrossWorkerCounts(t *testing.T) {
	rows := threeBlocs()
	for _, req := range []Request{
		{Family: KMeans, Criterion: DaviesBouldin},
		{Family: GMM, Criterion: Silhouette},
		{Family: Spectral, Criterion: Silhouette},
	} {
		one, err := newTestSelector(1).Select(context.Background(), rows, req)
		require.NoError(t, err)
		many, err := newTestSelector(8).Select(context.Background(), rows, req)
		require.NoError(t, err)
		assert.Equal(t, one, many, string(req.Family))
	}
}

func TestSelect_SpectralAffinityOnlyLabelsGrid(t *testing.T) {
	res, err := newTestSelector(4).Select(context.Background(), threeBlocs(), Request{Family: Spectral, Criterion: Silhouette})
	require.NoError(t, err)
	require.NotNil(t, res)

	// every affinity fits the same graph, so the first affinity wins the tie
	assert.Equal(t, RBF, res.Params.Affinity)
	assert.Equal(t, len(Affinities)*9, res.Evaluated)
}

func TestSelect_DBSCANFindsBlocs(t *testing.T) {
	rows := threeBlocs()
	sel := newTestSelector(4)
	req := Request{Family: DBSCAN, Criterion: Silhouette, Distance: metrics.Euclidean}

	res, err := sel.Select(context.Background(), rows, req)
	require.NoError(t, err)
	require.NotNil(t, res)

	labels, err := sel.Fit(rows, res.Params, req)
	require.NoError(t, err)
	assert.Equal(t, 3, ClusterCount(labels))
}

func TestSelect_DBSCANWithoutTwoClustersIsNil(t *testing.T) {
	// evenly spaced voters form one chain or nothing at every radius
	var rows [][]float64
	for i := 0; i < 10; i++ {
		rows = append(rows, []float64{float64(i)})
	}

	for _, c := range []Criterion{Silhouette, KDistance} {
		res, err := newTestSelector(4).Select(context.Background(), rows, Request{Family: DBSCAN, Criterion: c})
		require.NoError(t, err)
		assert.Nil(t, res, string(c))
	}
}

func TestSelect_Errors(t *testing.T) {
	sel := newTestSelector(2)

	_, err := sel.Select(context.Background(), threeBlocs(), Request{Family: GMM, Criterion: GapStatistic})
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)

	res, err := sel.Select(context.Background(), [][]float64{{1}}, Request{Family: KMeans, Criterion: Silhouette})
	require.NoError(t, err)
	assert.Nil(t, res)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sel.Select(ctx, threeBlocs(), Request{Family: KMeans, Criterion: Silhouette})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFit_MatchesSelectedK(t *testing.T) {
	rows := threeBlocs()
	sel := newTestSelector(2)

	for _, p := range []Params{
		{Family: KMeans, K: 3},
		{Family: Hierarchical, K: 3, Linkage: Ward},
		{Family: Spectral, K: 2, Affinity: CosineAffinity},
	} {
		labels, err := sel.Fit(rows, p, Request{})
		require.NoError(t, err, p.String())
		assert.Len(t, labels, len(rows))
		assert.LessOrEqual(t, ClusterCount(labels), p.K)
	}

	_, err := sel.Fit(rows, Params{Family: "optics"}, Request{})
	assert.ErrorIs(t, err, ErrUnknownFamily)
}
