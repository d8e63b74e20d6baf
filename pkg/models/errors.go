package models

import "errors"

// ErrClusterDataExists is returned by sinks when cluster_data already holds
// a clustering and the caller did not ask to overwrite it.
var ErrClusterDataExists = errors.New("cluster data already exists")
