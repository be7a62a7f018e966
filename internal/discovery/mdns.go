// ABOUTME: mDNS advertisement of the control API
// ABOUTME: Lets wall panels and other LAN front ends find the daemon without configuration
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/version"
)

// serviceType is the DNS-SD type front ends browse for.
const serviceType = "_live-input._tcp"

// Config holds advertisement settings.
type Config struct {
	InstanceID string // server instance id, published as a TXT record
	Port       int
}

// Advertiser publishes the control API on the local network.
type Advertiser struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config Config, logger *zap.Logger) *Advertiser {
	ctx, cancel := context.WithCancel(context.Background())
	return &Advertiser{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Advertise registers the service and keeps it published until Stop.
func (a *Advertiser) Advertise() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("get local IPs: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "live-input"
	}

	service, err := mdns.NewMDNSService(
		hostname,
		serviceType,
		"",
		"",
		a.config.Port,
		ips,
		[]string{
			"id=" + a.config.InstanceID,
			"path=/api",
			"product=" + version.Product,
			"version=" + version.Version,
		},
	)
	if err != nil {
		return fmt.Errorf("create mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("create mdns server: %w", err)
	}

	a.logger.Info("advertising via mDNS",
		zap.String("type", serviceType),
		zap.Int("port", a.config.Port))

	go func() {
		<-a.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.cancel()
}

// localIPs returns the non-loopback IPv4 addresses of up interfaces.
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
