// Package bridge drives the fixed conversation the QuickBooks Web Connector
// holds with this server: authenticate, then alternate sendRequestXML and
// receiveResponseXML until the work is done. A session is either a bulk sync
// walking the phase plan or a single invoice export.
package bridge

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/fieldserve/trellis/config"
	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/qbxml"
	"github.com/fieldserve/trellis/pkg/session"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// ServerVersionString is reported to the remote client on serverVersion.
const ServerVersionString = "trellis-bridge 1.0.0"

// AuthResultInvalidUser is the protocol's fixed token for rejected
// credentials.
const AuthResultInvalidUser = "nvu"

// statusBenignNoMatch is the remote status for "query matched nothing"; an
// empty list is a normal outcome, not a fault.
const statusBenignNoMatch = 1

// Exporter is the invoice-export side the bridge drives.
type Exporter interface {
	NextPendingInvoiceID(ctx context.Context) (*string, error)
	BuildAddPayload(ctx context.Context, invoiceID string) (*models.InvoiceAdd, error)
	OnExportSuccess(ctx context.Context, invoiceID, qbTxnID, qbEditSequence string) error
	OnExportFailure(ctx context.Context, invoiceID, message string) error
}

// AuditSink records protocol events. Append failures never fault a session.
type AuditSink interface {
	Append(ctx context.Context, entry models.AuditLogEntry) error
}

// InventoryStore stages pulled inventory items.
type InventoryStore interface {
	Append(ctx context.Context, runID string, items []models.InventoryItem) (int64, error)
}

// ServiceItemStore stages pulled service items.
type ServiceItemStore interface {
	Append(ctx context.Context, runID string, items []models.ServiceItem) (int64, error)
}

// OtherItemStore stages the four list types that share one destination. The
// destination is cleared once per sync, before the first page lands.
type OtherItemStore interface {
	Truncate(ctx context.Context) error
	Append(ctx context.Context, runID string, items []models.OtherItem) (int64, error)
}

// CustomerStore stages pulled customers.
type CustomerStore interface {
	Append(ctx context.Context, runID string, customers []models.Customer) (int64, error)
}

// Emitter publishes run lifecycle events. Optional; nil disables it.
type Emitter interface {
	RunStarted(ctx context.Context, run *models.Run)
	RunEnded(ctx context.Context, run *models.Run)
}

type Service struct {
	cfg       *config.Config
	plan      Plan
	registry  *session.Registry
	builder   *qbxml.RequestBuilder
	exporter  Exporter
	audit     AuditSink
	inventory InventoryStore
	services  ServiceItemStore
	others    OtherItemStore
	customers CustomerStore
	emitter   Emitter
	logger    ectologger.Logger
}

func NewService(
	cfg *config.Config,
	registry *session.Registry,
	builder *qbxml.RequestBuilder,
	exporter Exporter,
	audit AuditSink,
	inventory InventoryStore,
	services ServiceItemStore,
	others OtherItemStore,
	customers CustomerStore,
	emitter Emitter,
	logger ectologger.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		plan:      NewPlan(cfg),
		registry:  registry,
		builder:   builder,
		exporter:  exporter,
		audit:     audit,
		inventory: inventory,
		services:  services,
		others:    others,
		customers: customers,
		emitter:   emitter,
		logger:    logger,
	}
}

// Authenticate validates the polling client's credentials and opens a run.
// Returns the session ticket and the protocol result string: the company
// file path on success (empty means "currently open file"), "nvu" on bad
// credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, string) {
	ctx, span := tracing.StartSpan(ctx, "bridge.Service.Authenticate")
	defer span.End()

	if !s.credentialsValid(username, password) {
		s.logger.WithContext(ctx).WithFields(map[string]any{"username": username}).Warn("Rejected authentication attempt")
		s.auditEvent(ctx, "", "authenticate", models.AuditDirectionInbound, nil, "rejected credentials", nil)
		return "", AuthResultInvalidUser
	}

	kind := models.RunKindBulkSync
	invoiceID := ""
	pending, err := s.exporter.NextPendingInvoiceID(ctx)
	if err != nil {
		// Can't see the export queue; run a bulk sync rather than fail auth.
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to check pending exports; defaulting to bulk sync")
	} else if pending != nil {
		kind = models.RunKindInvoiceExport
		invoiceID = *pending
	}

	run := s.registry.StartRun(ctx, username, s.cfg.QBWCCompanyFile, kind, invoiceID)
	s.auditEvent(ctx, run.ID, "authenticate", models.AuditDirectionInbound, nil, fmt.Sprintf("session started (%s)", kind), nil)
	if s.emitter != nil {
		s.emitter.RunStarted(ctx, run)
	}
	return run.Ticket, s.cfg.QBWCCompanyFile
}

// SendRequestXML hands the client its next unit of work. An empty string
// tells the client the session has nothing further to do.
func (s *Service) SendRequestXML(ctx context.Context, ticket, companyFile string, qbXMLMajor, qbXMLMinor int) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.Service.SendRequestXML")
	defer span.End()

	run := s.registry.ResolveTicket(ctx, ticket)
	if run == nil {
		s.logger.WithContext(ctx).Warn("sendRequestXML with unknown ticket")
		return "", nil
	}
	s.registry.RecordVersions(ctx, ticket, fmt.Sprintf("qbxml %d.%d", qbXMLMajor, qbXMLMinor), ServerVersionString)

	if run.Kind == models.RunKindInvoiceExport {
		return s.buildExportRequest(ctx, run)
	}
	return s.buildSyncRequest(ctx, run)
}

// ReceiveResponseXML ingests the client's response and reports progress:
// 100 ends the session, 1..99 asks the client to call sendRequestXML again,
// negative aborts with an error.
func (s *Service) ReceiveResponseXML(ctx context.Context, ticket, response, hresult, message string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.Service.ReceiveResponseXML")
	defer span.End()

	run := s.registry.ResolveTicket(ctx, ticket)
	if run == nil {
		s.logger.WithContext(ctx).Warn("receiveResponseXML with unknown ticket")
		return -1, nil
	}

	if hresult != "" {
		// The client faulted on its side before producing a response.
		errMsg := fmt.Sprintf("client error %s: %s", hresult, message)
		s.registry.SetLastError(ctx, run.ID, errMsg)
		s.auditEvent(ctx, run.ID, "receiveResponseXML", models.AuditDirectionInbound, &hresult, errMsg, nil)
		s.endRun(ctx, ticket, models.RunStatusFailed)
		return -1, nil
	}

	if run.Kind == models.RunKindInvoiceExport {
		return s.receiveExportResponse(ctx, run, ticket, response)
	}
	return s.receiveSyncResponse(ctx, run, ticket, response)
}

// GetLastError returns the message a failed step left behind.
func (s *Service) GetLastError(ctx context.Context, ticket string) string {
	run := s.registry.ResolveTicket(ctx, ticket)
	if run == nil {
		return "unknown session ticket"
	}
	return run.LastError
}

// ConnectionError is the client reporting it could not reach QuickBooks.
// "done" tells it to stop retrying; the session is over.
func (s *Service) ConnectionError(ctx context.Context, ticket, hresult, message string) string {
	ctx, span := tracing.StartSpan(ctx, "bridge.Service.ConnectionError")
	defer span.End()

	errMsg := fmt.Sprintf("connection error %s: %s", hresult, message)
	if run := s.registry.ResolveTicket(ctx, ticket); run != nil {
		s.registry.SetLastError(ctx, run.ID, errMsg)
		s.auditEvent(ctx, run.ID, "connectionError", models.AuditDirectionInbound, &hresult, errMsg, nil)
	}
	s.endRun(ctx, ticket, models.RunStatusFailed)
	return "done"
}

// CloseConnection ends the session cleanly.
func (s *Service) CloseConnection(ctx context.Context, ticket string) string {
	ctx, span := tracing.StartSpan(ctx, "bridge.Service.CloseConnection")
	defer span.End()

	s.endRun(ctx, ticket, models.RunStatusClosed)
	return "OK"
}

// ClientVersion can veto or warn on the client build. Empty accepts it.
func (s *Service) ClientVersion(ctx context.Context, version string) string {
	s.logger.WithContext(ctx).WithFields(map[string]any{"client_version": version}).Debug("Client version check")
	return ""
}

// ServerVersion reports this server's version string.
func (s *Service) ServerVersion(ctx context.Context) string {
	return ServerVersionString
}

func (s *Service) credentialsValid(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.QBWCUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.QBWCPassword)) == 1
	return userOK && passOK
}

func (s *Service) buildExportRequest(ctx context.Context, run *models.Run) (string, error) {
	add, err := s.exporter.BuildAddPayload(ctx, run.InvoiceID)
	if err != nil {
		return s.failExportRequest(ctx, run, err)
	}

	payload, err := s.builder.BuildInvoiceAdd(*add)
	if err != nil {
		return s.failExportRequest(ctx, run, err)
	}

	s.auditEvent(ctx, run.ID, "sendRequestXML", models.AuditDirectionOutbound, nil, fmt.Sprintf("invoice add request (%s)", add.RefNumber), &payload)
	return payload, nil
}

// failExportRequest records the build failure against the invoice and ends
// the session with no work. The invoice stays Ready for the next poll.
func (s *Service) failExportRequest(ctx context.Context, run *models.Run, cause error) (string, error) {
	s.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{"invoice_id": run.InvoiceID}).Error("Failed to build invoice export request")
	if err := s.exporter.OnExportFailure(ctx, run.InvoiceID, cause.Error()); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to record export failure")
	}
	s.registry.SetLastError(ctx, run.ID, cause.Error())
	s.auditEvent(ctx, run.ID, "sendRequestXML", models.AuditDirectionOutbound, nil, "invoice export aborted: "+cause.Error(), nil)
	s.endRun(ctx, run.Ticket, models.RunStatusFailed)
	return "", nil
}

func (s *Service) buildSyncRequest(ctx context.Context, run *models.Run) (string, error) {
	state := s.registry.GetOrCreateIterator(ctx, run.ID, s.plan.First())
	if state.Phase == models.PhaseDone {
		return "", nil
	}

	// The shared other-item destination is truncate-then-append: clear it
	// once per sync, right before the first page of the first subtype.
	if !state.HasIterator() && state.Phase == s.plan.firstOtherItemPhase() {
		if err := s.others.Truncate(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to clear other-item staging destination")
			s.registry.SetLastError(ctx, run.ID, "failed to clear staging destination: "+err.Error())
		}
	}

	var payload string
	var err error
	if state.HasIterator() {
		payload, err = s.builder.BuildContinueQuery(state.Phase, *state.IteratorID, s.cfg.QBPageSize)
	} else {
		payload, err = s.builder.BuildStartQuery(state.Phase, s.queryFilters())
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"phase": state.Phase}).Error("Failed to build sync request")
		s.registry.SetLastError(ctx, run.ID, err.Error())
		s.endRun(ctx, run.Ticket, models.RunStatusFailed)
		return "", nil
	}

	s.auditEvent(ctx, run.ID, "sendRequestXML", models.AuditDirectionOutbound, nil, fmt.Sprintf("query request (%s)", state.Phase), &payload)
	return payload, nil
}

func (s *Service) queryFilters() qbxml.QueryFilters {
	filters := qbxml.QueryFilters{
		MaxReturned: s.cfg.QBPageSize,
		ActiveOnly:  s.cfg.QBActiveOnly,
	}
	if s.cfg.QBModifiedSinceDays > 0 {
		since := time.Now().UTC().AddDate(0, 0, -s.cfg.QBModifiedSinceDays)
		filters.FromModifiedDate = &since
	}
	return filters
}

func (s *Service) receiveExportResponse(ctx context.Context, run *models.Run, ticket, response string) (int, error) {
	s.auditEvent(ctx, run.ID, "receiveResponseXML", models.AuditDirectionInbound, nil, "invoice add response", &response)

	result, err := qbxml.ParseInvoiceAddResponse(response)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"invoice_id": run.InvoiceID}).Error("Failed to parse invoice add response")
		if failErr := s.exporter.OnExportFailure(ctx, run.InvoiceID, "unparseable response: "+err.Error()); failErr != nil {
			s.logger.WithContext(ctx).WithError(failErr).Warn("Failed to record export failure")
		}
		s.registry.SetLastError(ctx, run.ID, err.Error())
		s.endRun(ctx, ticket, models.RunStatusFailed)
		return -1, nil
	}

	if result.Succeeded() {
		if err := s.exporter.OnExportSuccess(ctx, run.InvoiceID, result.TxnID, result.EditSequence); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"invoice_id": run.InvoiceID}).Error("Failed to record export success")
		}
	} else {
		message := fmt.Sprintf("%d: %s", result.StatusCode, result.StatusMessage)
		if err := s.exporter.OnExportFailure(ctx, run.InvoiceID, message); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to record export failure")
		}
		s.registry.SetLastError(ctx, run.ID, message)
	}

	s.endRun(ctx, ticket, models.RunStatusClosed)
	return 100, nil
}

func (s *Service) receiveSyncResponse(ctx context.Context, run *models.Run, ticket, response string) (int, error) {
	state := s.registry.GetOrCreateIterator(ctx, run.ID, s.plan.First())
	if state.Phase == models.PhaseDone {
		s.endRun(ctx, ticket, models.RunStatusClosed)
		return 100, nil
	}

	page, err := qbxml.ParseQueryResponse(state.Phase, response)
	if err != nil {
		// A broken page loses that page, not the sync. Close out the phase
		// and keep walking; partial staged data is better than none.
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"phase": state.Phase}).Error("Failed to parse sync response page")
		s.registry.SetLastError(ctx, run.ID, err.Error())
		s.auditEvent(ctx, run.ID, "receiveResponseXML", models.AuditDirectionInbound, nil, fmt.Sprintf("unparseable page (%s)", state.Phase), &response)
		return s.advancePhase(ctx, run, ticket, state.Phase)
	}

	statusCode := strconv.Itoa(page.StatusCode)
	s.auditEvent(ctx, run.ID, "receiveResponseXML", models.AuditDirectionInbound, &statusCode, fmt.Sprintf("page (%s): %d records, %d remaining", state.Phase, page.RecordCount(), page.Remaining), &response)

	if page.StatusCode != 0 && page.StatusCode != statusBenignNoMatch {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"phase":          state.Phase,
			"status_code":    page.StatusCode,
			"status_message": page.StatusMessage,
		}).Warn("Sync page returned a non-ok status")
		s.registry.SetLastError(ctx, run.ID, fmt.Sprintf("%d: %s", page.StatusCode, page.StatusMessage))
		return s.advancePhase(ctx, run, ticket, state.Phase)
	}

	s.stagePage(ctx, run, page)

	if page.IteratorID != nil && page.Remaining > 0 {
		s.registry.ReplaceIterator(ctx, run.ID, models.IteratorState{
			Phase:      state.Phase,
			IteratorID: page.IteratorID,
			Remaining:  page.Remaining,
		})
		return s.plan.Progress(state.Phase), nil
	}

	return s.advancePhase(ctx, run, ticket, state.Phase)
}

// stagePage best-effort imports a page's records. A failed append loses one
// page of one entity type; the sync keeps moving.
func (s *Service) stagePage(ctx context.Context, run *models.Run, page *qbxml.Page) {
	var err error
	switch page.Phase {
	case models.PhaseCompany:
		// The company probe verifies the connection; nothing to stage.
		return
	case models.PhaseInventoryItems:
		_, err = s.inventory.Append(ctx, run.ID, page.InventoryItems)
	case models.PhaseServiceItems:
		_, err = s.services.Append(ctx, run.ID, page.ServiceItems)
	case models.PhaseNonInventoryItems, models.PhaseOtherChargeItems,
		models.PhaseSalesTaxItems, models.PhaseSalesTaxGroups:
		_, err = s.others.Append(ctx, run.ID, page.OtherItems)
	case models.PhaseCustomers:
		_, err = s.customers.Append(ctx, run.ID, page.Customers)
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"phase":   page.Phase,
			"records": page.RecordCount(),
		}).Error("Failed to stage sync page")
		s.registry.SetLastError(ctx, run.ID, err.Error())
	}
}

func (s *Service) advancePhase(ctx context.Context, run *models.Run, ticket string, current models.Phase) (int, error) {
	next := s.plan.Next(current)
	s.registry.ReplaceIterator(ctx, run.ID, models.IteratorState{Phase: next})

	if next == models.PhaseDone {
		s.endRun(ctx, ticket, models.RunStatusClosed)
		return 100, nil
	}
	return s.plan.Progress(next), nil
}

func (s *Service) endRun(ctx context.Context, ticket string, status models.RunStatus) {
	run := s.registry.EndRun(ctx, ticket, status)
	if run == nil {
		return
	}
	s.auditEvent(ctx, run.ID, "session", models.AuditDirectionNone, nil, fmt.Sprintf("session ended (%s)", status), nil)
	if s.emitter != nil {
		s.emitter.RunEnded(ctx, run)
	}
}

func (s *Service) auditEvent(ctx context.Context, runID, method string, direction models.AuditDirection, statusCode *string, message string, payload *string) {
	entry := models.AuditLogEntry{
		RunID:       runID,
		Method:      method,
		Direction:   direction,
		StatusCode:  statusCode,
		Message:     message,
		Payload:     payload,
		CompanyFile: s.cfg.QBWCCompanyFile,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"method": method}).Warn("Failed to append audit event")
	}
}
