// Package plugins is the registry of converter plugin presets.
//
// Every preset drives dcm2niix and reconciles its output names the same way;
// they differ in the session post pass (scanner specific sidecar fixes,
// slice timing) and in the extras written for diffusion runs. The registry
// is an explicit name to preset map with no reflection.
package plugins
