package providers

import (
	"github.com/smallbiznis/courseaccess/internal/payment"
	"github.com/smallbiznis/courseaccess/internal/providers/email"
	"go.uber.org/fx"
)

// Module wires the outbound email transport and the inbound payment adapters.
var Module = fx.Module("providers",
	email.Module,
	payment.Module,
)
