package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log"
	flag "github.com/spf13/pflag"

	"github.com/dedis/dissent/anonymity"
	"github.com/dedis/dissent/anonymity/tolerant"
	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/config"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/identity/auth"
	"github.com/dedis/dissent/messaging"
	"github.com/dedis/dissent/session"
)

// node bundles one virtual participant.
type node struct {
	ident   identity.PrivateIdentity
	net     *messaging.LocalNode
	session *session.Session
	leader  *session.Leader
}

func main() {
	confPath := flag.String("conf", "dissent.conf", "path to the configuration file")
	logLevel := flag.String("log-level", "info", "log level for the dissent subsystem")
	flag.Parse()

	settings, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(-1)
	}
	settings.ApplyLog()
	if err := logging.SetLogLevel("dissent", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(-1)
	}

	if err := run(settings); err != nil {
		common.Logger.Errorf("node failed: %v", err)
		os.Exit(-1)
	}
	os.Exit(0)
}

// run provisions local_nodes virtual participants over an in-process hub
// and keeps sessions rolling until interrupted. Multi-process overlays
// plug a real transport in behind messaging.Network instead of the hub.
func run(settings config.Settings) error {
	policy, err := identity.ParseSubgroupPolicy(settings.SubgroupPolicy)
	if err != nil {
		return err
	}

	createRound := anonymity.NewNullRound
	if settings.RoundType == config.RoundTypeTolerant {
		createRound = tolerant.NewRound
	}

	hub := messaging.NewLocalHub()
	sessionId := crypto.NewId()

	idents := make([]identity.PrivateIdentity, settings.LocalNodes)
	for idx := range idents {
		ident, err := identity.NewPrivateIdentity(idx == 0)
		if err != nil {
			return err
		}
		idents[idx] = ident
	}

	roster := make([]identity.PublicIdentity, len(idents))
	for idx, ident := range idents {
		roster[idx] = ident.Public()
	}
	leaderId := idents[0].Id
	group := identity.NewGroup(roster, leaderId, policy)

	nodes := make([]*node, len(idents))
	for idx, ident := range idents {
		n := &node{
			ident: ident,
			net:   hub.Join(ident.Id),
		}
		holder := identity.NewGroupHolder(group)
		n.session = session.NewSession(holder, ident, sessionId, n.net, createRound)
		if ident.Id == leaderId {
			n.leader = session.NewLeader(group, ident, n.net, n.session, makeAuthenticator(settings, ident))
		}
		nodes[idx] = n
	}

	hub.OnConnection(func(observer, remote crypto.Id) {
		for _, n := range nodes {
			if n.ident.Id == observer {
				n.session.HandleConnection(remote)
			}
		}
	})
	hub.OnDisconnection(func(observer, remote crypto.Id) {
		for _, n := range nodes {
			if n.ident.Id != observer {
				continue
			}
			n.session.HandleDisconnect(remote)
			if n.leader != nil {
				n.leader.HandleDisconnect(remote)
			}
		}
	})

	for _, n := range nodes {
		if n.leader != nil {
			n.leader.Start()
		}
	}
	for _, n := range nodes {
		n.session.Start()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	common.Logger.Infof("shutting down")
	for _, n := range nodes {
		if n.leader != nil {
			n.leader.Stop()
		}
		n.session.Stop()
	}
	return nil
}

func makeAuthenticator(settings config.Settings, ident identity.PrivateIdentity) auth.Authenticator {
	switch settings.Auth {
	case auth.NameTwoPhaseNull:
		return auth.NewTwoPhaseNullAuthenticator()
	case auth.NamePreExchangedKey:
		// the demo hub has no pre-exchanged roster; fall through to null
		common.Logger.Warnf("preexchanged_keys requires a provisioned key roster, using null auth")
	case auth.NameLRS:
		common.Logger.Warnf("lrs requires a provisioned ring, using null auth")
	}
	return auth.NewNullAuthenticator()
}
