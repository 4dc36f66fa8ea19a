package models

// Band holds the limits used to color one environmental metric.
type Band struct {
	Low      float64 `json:"low"`
	IdealMin float64 `json:"idealMin"`
	IdealMax float64 `json:"idealMax"`
	High     float64 `json:"high"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type RESTConfig struct {
	BaseURL         string `json:"baseUrl"`
	BreakerFailures uint32 `json:"breakerFailures"`
	BreakerOpenMs   int32  `json:"breakerOpenMs"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

type Config struct {
	HTTPPort      int32           `json:"httpPort"`
	LogLevel      string          `json:"logLevel"`
	LogFormat     string          `json:"logFormat"`
	Backend       string          `json:"backend"`
	CallTimeoutMs int32           `json:"callTimeoutMs"`
	Interval      int32           `json:"interval"`
	FocusZoom     float64         `json:"focusZoom"`
	EnableRedis   bool            `json:"enableRedis"`
	EnableMQTT    bool            `json:"enableMQTT"`
	EnableHistory bool            `json:"enableHistory"`
	DisableSocket bool            `json:"disableSocket"`
	Database      DatabaseConfig  `json:"database"`
	REST          RESTConfig      `json:"rest"`
	Redis         RedisConfig     `json:"redis"`
	MQTT          MQTTConfig      `json:"mqtt"`
	Influx        InfluxConfig    `json:"influx"`
	Thresholds    map[string]Band `json:"thresholds"`
	Scope         Scope           `json:"scope"`
	SeedFile      string          `json:"seedFile"`
}
