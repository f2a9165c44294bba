// Package qbwc exposes the SOAP endpoint the QuickBooks Web Connector polls.
// The envelope handling is deliberately minimal: the client speaks one fixed
// dialect with eight methods, so the endpoint unmarshals the body, dispatches
// on which method element is present, and renders the matching response.
package qbwc

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/fieldserve/trellis/pkg/bridge"
	pkgcontext "github.com/fieldserve/trellis/pkg/context"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Register mounts the SOAP endpoint.
func Register(e *echo.Echo) {
	e.POST("/qbwc", Handle)
}

type authenticateCall struct {
	Username string `xml:"strUserName"`
	Password string `xml:"strPassword"`
}

type sendRequestCall struct {
	Ticket          string `xml:"ticket"`
	HCPResponse     string `xml:"strHCPResponse"`
	CompanyFileName string `xml:"strCompanyFileName"`
	Country         string `xml:"qbXMLCountry"`
	MajorVersion    int    `xml:"qbXMLMajorVers"`
	MinorVersion    int    `xml:"qbXMLMinorVers"`
}

type receiveResponseCall struct {
	Ticket   string `xml:"ticket"`
	Response string `xml:"response"`
	HResult  string `xml:"hresult"`
	Message  string `xml:"message"`
}

type ticketCall struct {
	Ticket string `xml:"ticket"`
}

type connectionErrorCall struct {
	Ticket  string `xml:"ticket"`
	HResult string `xml:"hresult"`
	Message string `xml:"message"`
}

type clientVersionCall struct {
	Version string `xml:"strVersion"`
}

type soapRequest struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Authenticate       *authenticateCall    `xml:"authenticate"`
		SendRequestXML     *sendRequestCall     `xml:"sendRequestXML"`
		ReceiveResponseXML *receiveResponseCall `xml:"receiveResponseXML"`
		GetLastError       *ticketCall          `xml:"getLastError"`
		ConnectionError    *connectionErrorCall `xml:"connectionError"`
		CloseConnection    *ticketCall          `xml:"closeConnection"`
		ClientVersion      *clientVersionCall   `xml:"clientVersion"`
		ServerVersion      *struct{}            `xml:"serverVersion"`
	} `xml:"Body"`
}

type stringArray struct {
	Strings []string `xml:"string"`
}

type authenticateResponse struct {
	XMLName xml.Name    `xml:"http://developer.intuit.com/ authenticateResponse"`
	Result  stringArray `xml:"authenticateResult"`
}

type sendRequestResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ sendRequestXMLResponse"`
	Result  string   `xml:"sendRequestXMLResult"`
}

type receiveResponseResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ receiveResponseXMLResponse"`
	Result  int      `xml:"receiveResponseXMLResult"`
}

type getLastErrorResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ getLastErrorResponse"`
	Result  string   `xml:"getLastErrorResult"`
}

type connectionErrorResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ connectionErrorResponse"`
	Result  string   `xml:"connectionErrorResult"`
}

type closeConnectionResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ closeConnectionResponse"`
	Result  string   `xml:"closeConnectionResult"`
}

type clientVersionResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ clientVersionResponse"`
	Result  string   `xml:"clientVersionResult"`
}

type serverVersionResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ serverVersionResponse"`
	Result  string   `xml:"serverVersionResult"`
}

// Handle dispatches one SOAP call to the bridge.
func Handle(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "qbwc_handler.Handle")
	defer span.End()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	var req soapRequest
	if err := xml.Unmarshal(raw, &req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed soap envelope")
	}

	ctx, svc, err := ectoinject.GetContext[*bridge.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get bridge service")
	}

	switch {
	case req.Body.Authenticate != nil:
		call := req.Body.Authenticate
		ticket, result := svc.Authenticate(ctx, call.Username, call.Password)
		return respond(c, authenticateResponse{Result: stringArray{Strings: []string{ticket, result}}})

	case req.Body.SendRequestXML != nil:
		call := req.Body.SendRequestXML
		ctx = pkgcontext.SetTicket(ctx, call.Ticket)
		payload, err := svc.SendRequestXML(ctx, call.Ticket, call.CompanyFileName, call.MajorVersion, call.MinorVersion)
		if err != nil {
			return err
		}
		return respond(c, sendRequestResponse{Result: payload})

	case req.Body.ReceiveResponseXML != nil:
		call := req.Body.ReceiveResponseXML
		ctx = pkgcontext.SetTicket(ctx, call.Ticket)
		percent, err := svc.ReceiveResponseXML(ctx, call.Ticket, call.Response, call.HResult, call.Message)
		if err != nil {
			return err
		}
		return respond(c, receiveResponseResponse{Result: percent})

	case req.Body.GetLastError != nil:
		ctx = pkgcontext.SetTicket(ctx, req.Body.GetLastError.Ticket)
		return respond(c, getLastErrorResponse{Result: svc.GetLastError(ctx, req.Body.GetLastError.Ticket)})

	case req.Body.ConnectionError != nil:
		call := req.Body.ConnectionError
		ctx = pkgcontext.SetTicket(ctx, call.Ticket)
		return respond(c, connectionErrorResponse{Result: svc.ConnectionError(ctx, call.Ticket, call.HResult, call.Message)})

	case req.Body.CloseConnection != nil:
		ctx = pkgcontext.SetTicket(ctx, req.Body.CloseConnection.Ticket)
		return respond(c, closeConnectionResponse{Result: svc.CloseConnection(ctx, req.Body.CloseConnection.Ticket)})

	case req.Body.ClientVersion != nil:
		return respond(c, clientVersionResponse{Result: svc.ClientVersion(ctx, req.Body.ClientVersion.Version)})

	case req.Body.ServerVersion != nil:
		return respond(c, serverVersionResponse{Result: svc.ServerVersion(ctx)})
	}

	return httperror.NewHTTPError(http.StatusBadRequest, "unsupported soap method")
}

func respond(c echo.Context, inner any) error {
	body, err := xml.Marshal(inner)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to render soap response")
	}

	var sb []byte
	sb = append(sb, `<?xml version="1.0" encoding="utf-8"?>`...)
	sb = append(sb, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`...)
	sb = append(sb, body...)
	sb = append(sb, `</soap:Body></soap:Envelope>`...)

	return c.Blob(http.StatusOK, "text/xml; charset=utf-8", sb)
}
