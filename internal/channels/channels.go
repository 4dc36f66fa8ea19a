// Package channels names the redis keys and pub/sub channels shared by the
// server and the client.
package channels

import "strings"

// Sensor prefixes the key holding the latest record of a sensor and the
// channel its updates are published on.
const Sensor = "sensor:"

// SensorKey returns the key/channel of one sensor.
func SensorKey(id string) string {
	return Sensor + id
}

// SensorID extracts the sensor id from a sensor channel name.
func SensorID(channel string) (string, bool) {
	if !strings.HasPrefix(channel, Sensor) {
		return "", false
	}
	id := strings.TrimPrefix(channel, Sensor)
	return id, id != ""
}
