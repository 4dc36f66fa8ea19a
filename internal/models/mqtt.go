package models

type MQTTUser struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type MQTTConfig struct {
	Host  string   `json:"mqtthost"`
	Port  int32    `json:"mqttport"`
	User  MQTTUser `json:"mqttuser"`
	Topic string   `json:"mqtttopic"`
}
