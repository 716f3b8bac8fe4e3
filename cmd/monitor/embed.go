package main

import _ "embed"

// embeddedConfig holds the YAML configuration embedded at build time.
// Deployments may overwrite embed_config.yaml before compiling to bake in
// their own machine fleet and baselines.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
