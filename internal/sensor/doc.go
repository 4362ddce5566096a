// Package sensor turns a coordinator's property map into named sensors.
//
// Every device property becomes one Sensor with a stable unique id
// ("<serial>-<property>") and a display name produced by a Translator. A
// Platform listens to the coordinator and adds sensors for properties that
// show up after the first snapshot.
package sensor
