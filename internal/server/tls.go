package server

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/xerrors"
)

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// ParseTLSVersion 解析 "1.0"~"1.3"
func ParseTLSVersion(v string) (uint16, error) {
	if ver, ok := tlsVersions[v]; ok {
		return ver, nil
	}
	return 0, xerrors.Errorf("unsupported tls version %q, must be one of 1.0, 1.1, 1.2, 1.3", v)
}

// CertPaths 显式配置的证书路径优先，否则使用 cert_dir 下的 scoutquest.crt / scoutquest.key
func CertPaths(cfg TLSConfig) (certPath, keyPath string) {
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		return cfg.CertPath, cfg.KeyPath
	}
	return filepath.Join(cfg.CertDir, "scoutquest.crt"), filepath.Join(cfg.CertDir, "scoutquest.key")
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	minVer, err := ParseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, xerrors.Wrap(err, "tls min_version")
	}
	maxVer, err := ParseTLSVersion(cfg.MaxVersion)
	if err != nil {
		return nil, xerrors.Wrap(err, "tls max_version")
	}
	if minVer > maxVer {
		return nil, xerrors.Errorf("tls min_version %s is greater than max_version %s", cfg.MinVersion, cfg.MaxVersion)
	}

	certPath, keyPath := CertPaths(cfg)
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			if cfg.AutoGenerate {
				return nil, xerrors.Wrapf(err, "tls: %s not found and certificate generation is not supported, provision it externally", p)
			}
			return nil, xerrors.Wrapf(err, "tls: %s not found", p)
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, xerrors.Wrap(err, "tls: load key pair")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVer,
		MaxVersion:   maxVer,
	}, nil
}

// startRedirect 在 http_port 上把所有请求 308 重定向到 HTTPS
func (s *Server) startRedirect() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.TLS.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrapf(err, "server: listen redirect %s", addr)
	}

	s.redirect = &http.Server{
		Handler:     RedirectHandler(s.cfg.Port),
		ReadTimeout: s.cfg.ReadTimeout,
	}
	go func() {
		if err := s.redirect.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("redirect server stopped", clog.Error(err))
		}
	}()
	s.logger.Info("http redirect listening", clog.String("addr", ln.Addr().String()))
	return nil
}

// RedirectHandler 返回 308 并指向 https://host:httpsPort 下的同一路径
func RedirectHandler(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}
