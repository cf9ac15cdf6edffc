package ytconfig

type CypressCookieManager struct{}

type CypressTokenAuthenticator struct {
	Secure bool `yson:"secure"`
}

type Coordinator struct {
	Enable bool `yson:"enable"`
}

type Auth struct {
	CypressCookieManager      CypressCookieManager      `yson:"cypress_cookie_manager"`
	CypressTokenAuthenticator CypressTokenAuthenticator `yson:"cypress_token_authenticator"`
	RequireAuthentication     bool                      `yson:"require_authentication"`
}

type HTTPProxyServer struct {
	CommonServer
	Port        int         `yson:"port"`
	Auth        Auth        `yson:"auth"`
	Coordinator Coordinator `yson:"coordinator"`
	Driver      Driver      `yson:"driver"`
}

type RPCProxyServer struct {
	CommonServer
	CypressTokenAuthenticator CypressTokenAuthenticator `yson:"cypress_token_authenticator"`
}

func getHTTPProxyServerCarcass(instance *Instance, debug bool) HTTPProxyServer {
	var c HTTPProxyServer
	// Sandbox proxies serve unauthenticated requests.
	c.Auth.RequireAuthentication = false
	c.Auth.CypressTokenAuthenticator.Secure = true
	c.Coordinator.Enable = true

	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.Port = instance.HTTPPort

	c.Logging = createLogging(instance.Dir, "http-proxy", debug)
	return c
}

func getRPCProxyServerCarcass(instance *Instance, debug bool) RPCProxyServer {
	var c RPCProxyServer
	c.CypressTokenAuthenticator.Secure = true
	c.RPCPort = int32(instance.RPCPort)
	c.MonitoringPort = int32(instance.MonitoringPort)
	c.Logging = createLogging(instance.Dir, "rpc-proxy", debug)
	return c
}

func getNativeClientCarcass(dir string) NativeClientConfig {
	var c NativeClientConfig
	loggingBuilder := newLoggingBuilder(dir, "client")
	c.Logging = loggingBuilder.addDefaultStderr().logging
	return c
}
