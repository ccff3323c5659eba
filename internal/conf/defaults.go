// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("engine.preferserver", false)
	v.SetDefault("engine.autosync", true)
	v.SetDefault("engine.syncintervalms", 30000)
	v.SetDefault("engine.minconfidence", 0.1)
	v.SetDefault("engine.dedupwindowms", 3000)

	v.SetDefault("bearing.enabled", true)
	v.SetDefault("bearing.micseparation", 0.17)
	v.SetDefault("bearing.speedofsound", 343.0)
	v.SetDefault("bearing.silencefloor", 1e-4)
	v.SetDefault("bearing.ildsaturationdb", 6.0)
	v.SetDefault("bearing.disagreementdeg", 30.0)
	v.SetDefault("bearing.disagreementpenalty", 0.5)
	v.SetDefault("bearing.lowfreqcutoffhz", 1000.0)

	v.SetDefault("location.enabled", false)
	v.SetDefault("location.latitude", 0.0)
	v.SetDefault("location.longitude", 0.0)

	v.SetDefault("analysis.windowseconds", 3.0)
	v.SetDefault("analysis.overlap", 0.0)
	v.SetDefault("analysis.samplerate", 48000)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.url", "")
	v.SetDefault("server.apikey", "")
	v.SetDefault("server.timeout", 15*time.Second)
	v.SetDefault("server.cachettl", 30*time.Second)
	v.SetDefault("server.breaker.maxfailures", 5)
	v.SetDefault("server.breaker.opentimeout", 60*time.Second)

	v.SetDefault("persistence.backend", "http")
	v.SetDefault("persistence.timeout", 30*time.Second)
	v.SetDefault("persistence.http.url", "")
	v.SetDefault("persistence.http.apikey", "")
	v.SetDefault("persistence.mqtt.broker", "")
	v.SetDefault("persistence.mqtt.clientid", "birdnet-hybrid")
	v.SetDefault("persistence.mqtt.username", "")
	v.SetDefault("persistence.mqtt.password", "")
	v.SetDefault("persistence.mqtt.topicprefix", "birdnet")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite.path", "hybrid.db")
	v.SetDefault("store.mysql.host", "localhost")
	v.SetDefault("store.mysql.port", 3306)
	v.SetDefault("store.mysql.username", "")
	v.SetDefault("store.mysql.password", "")
	v.SetDefault("store.mysql.database", "birdnet")
	v.SetDefault("store.badger.path", "queue")
	v.SetDefault("store.badger.inmemory", false)

	v.SetDefault("model.dir", "models")
	v.SetDefault("model.baseurl", "")
	v.SetDefault("model.defaultid", "")
	v.SetDefault("model.labelpath", "")
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.sensitivity", 1.0)

	v.SetDefault("network.probeurl", "")
	v.SetDefault("network.probeinterval", 15*time.Second)
	v.SetDefault("network.probetimeout", 5*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/hybrid.log")
	v.SetDefault("logging.fileoutput.level", "info")
}
