package main

var opts struct {
	Node struct {
		Host       string `long:"host" env:"HOST" description:"address advertised to other members (default: first non-loopback address)"`
		Port       int    `long:"port" env:"PORT" required:"true" description:"service port advertised to other members"`
		SecurePort int    `long:"secure-port" env:"SECURE_PORT" description:"optional secure service port"`
		UDPPort    int    `long:"udp-port" env:"UDP_PORT" description:"optional udp service port"`
		Payload    string `long:"payload" env:"PAYLOAD" description:"opaque metadata announced with every heartbeat"`
		Domain     string `long:"domain" env:"DOMAIN" description:"membership domain"`
	} `group:"node" namespace:"node" env-namespace:"NODE"`

	Multicast struct {
		Group           string `long:"group" env:"GROUP" description:"multicast group address" default:"228.0.0.4"`
		Port            int    `long:"port" env:"PORT" description:"multicast group port" default:"45564"`
		BindAddr        string `long:"bind-addr" env:"BIND_ADDR" description:"local address of the interface to use"`
		TTL             int    `long:"ttl" env:"TTL" description:"multicast ttl (0 for system default)"`
		NoLoopback      bool   `long:"no-loopback" env:"NO_LOOPBACK" description:"disable multicast loopback"`
		Frequency       int    `long:"frequency" env:"FREQUENCY" description:"heartbeat interval (ms)" default:"500"`
		DropTime        int    `long:"drop-time" env:"DROP_TIME" description:"time after which a silent member is dropped (ms)" default:"3000"`
		DomainFilter    bool   `long:"domain-filter" env:"DOMAIN_FILTER" description:"ignore members from other domains"`
		NoRecovery      bool   `long:"no-recovery" env:"NO_RECOVERY" description:"do not restart the transport after socket errors"`
		RecoveryCounter int    `long:"recovery-counter" env:"RECOVERY_COUNTER" description:"consecutive errors before recovery" default:"10"`
		RecoverySleep   int    `long:"recovery-sleep" env:"RECOVERY_SLEEP" description:"pause between recovery attempts (ms)" default:"5000"`
		Workers         int    `long:"workers" env:"WORKERS" description:"number of listener workers" default:"2"`
	} `group:"multicast" namespace:"mcast" env-namespace:"MCAST"`

	GRPC struct {
		BindAddr string `long:"bind-addr" env:"BIND_ADDR" description:"address to bind grpc health server" default:":3000"`
	} `group:"grpc" namespace:"grpc" env-namespace:"GRPC"`

	Metrics struct {
		BindAddr string `long:"bind-addr" env:"BIND_ADDR" description:"address to bind prometheus metrics server" default:":9090"`
	} `group:"metrics" namespace:"metrics" env-namespace:"METRICS"`

	Verbose bool `long:"verbose" description:"verbose mode" env:"VERBOSE"`
}
