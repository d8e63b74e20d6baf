package models

import "time"

// NoiseLabel marks points DBSCAN did not attach to any cluster.
const NoiseLabel = -1

// ClusterAssignment is one row of cluster_data.
type ClusterAssignment struct {
	VoterAddress string             `json:"voterAddress"`
	VotingPower  float64            `json:"votingPower"`
	Cluster      int                `json:"cluster"`
	Features     map[string]float64 `json:"features"` // proposal_id -> cell value
}

// ParameterRecord is one row of the append-only parameters audit log.
type ParameterRecord struct {
	RunID                  string `json:"runId"`
	DAOID                  string `json:"daoId"`
	ClusteringMethod       string `json:"clusteringMethod"`
	DistanceClustering     string `json:"distanceClustering"`
	Scaler                 string `json:"scaler"`
	OptimalClusterMethod   string `json:"optimalClusterMethod"`
	DistanceOptimalCluster string `json:"distanceOptimalCluster"`
	// OptimalClusters is the winning grid point, e.g. "kmeans(k=3)".
	OptimalClusters     string  `json:"optimalClusters"`
	NumClustersSelected int     `json:"numClustersSelected"`
	Score               float64 `json:"score"`
	EntropyFunction     string  `json:"entropyFunction"`
	VBE                 float64 `json:"vbe"` // Voting bloc entropy of the final labels
	// Agreement with the previously stored clustering, nil on the first run.
	StabilityARI *float64  `json:"stabilityAri,omitempty"`
	StabilityVI  *float64  `json:"stabilityVi,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
