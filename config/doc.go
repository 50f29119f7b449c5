// Package config loads declarative interceptor policies from YAML and
// registers them on a registry.
//
// Example policy file:
//
//	policies:
//	  - owner: Payment
//	    operation: charge
//	    logging: true
//	    metrics: true
//	    authorize: 'params.amount <= 1000'
//	    requireParams: [account, amount]
//	    dedupe:
//	      param: requestId
//	      backend: redis
//	      ttl: 24h
//	    retry:
//	      backoff: exponential
//	      maxRetries: 3
//	      initialDelay: 100ms
//	    timeout: ${CHARGE_TIMEOUT:-2s}
//
// Policies register at type level, so they apply to every instance of the
// owner type. Instance-level interceptors are registered in code.
package config
