package sonos

import "encoding/xml"

// UPnP service descriptors for the zone player endpoints this bridge talks to.
type upnpService struct {
	Type       string
	ControlURL string
	EventURL   string
}

var (
	avTransport = upnpService{
		Type:       "urn:schemas-upnp-org:service:AVTransport:1",
		ControlURL: "/MediaRenderer/AVTransport/Control",
		EventURL:   "/MediaRenderer/AVTransport/Event",
	}
	renderingControl = upnpService{
		Type:       "urn:schemas-upnp-org:service:RenderingControl:1",
		ControlURL: "/MediaRenderer/RenderingControl/Control",
		EventURL:   "/MediaRenderer/RenderingControl/Event",
	}
	zoneGroupTopology = upnpService{
		Type:       "urn:schemas-upnp-org:service:ZoneGroupTopology:1",
		ControlURL: "/ZoneGroupTopology/Control",
		EventURL:   "/ZoneGroupTopology/Event",
	}
	alarmClock = upnpService{
		Type:       "urn:schemas-upnp-org:service:AlarmClock:1",
		ControlURL: "/AlarmClock/Control",
		EventURL:   "/AlarmClock/Event",
	}
)

// deviceDescription is the subset of /xml/device_description.xml we read.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		UDN          string `xml:"UDN"`
		RoomName     string `xml:"roomName"`
		ModelName    string `xml:"modelName"`
		FriendlyName string `xml:"friendlyName"`
	} `xml:"device"`
}

// soapEnvelope unwraps a SOAP response body.
type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// soapFault is a SOAP error response; UPnP puts the useful code in detail.
type soapFault struct {
	XMLName     xml.Name `xml:"Fault"`
	FaultCode   string   `xml:"faultcode"`
	FaultString string   `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			ErrorCode        string `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// propertySet is a UPnP NOTIFY body.
type propertySet struct {
	XMLName    xml.Name `xml:"propertyset"`
	Properties []struct {
		LastChange     string `xml:"LastChange"`
		ZoneGroupState string `xml:"ZoneGroupState"`
	} `xml:"property"`
}

// avTransportChange is the decoded AVTransport LastChange document.
type avTransportChange struct {
	XMLName  xml.Name `xml:"Event"`
	Instance struct {
		TransportState               attrVal `xml:"TransportState"`
		CurrentPlayMode              attrVal `xml:"CurrentPlayMode"`
		CurrentTrackURI              attrVal `xml:"CurrentTrackURI"`
		CurrentTrackDuration         attrVal `xml:"CurrentTrackDuration"`
		CurrentTrackMetaData         attrVal `xml:"CurrentTrackMetaData"`
		NextTrackMetaData            attrVal `xml:"NextTrackMetaData"`
		EnqueuedTransportURIMetaData attrVal `xml:"EnqueuedTransportURIMetaData"`
	} `xml:"InstanceID"`
}

// renderingChange is the decoded RenderingControl LastChange document. Volume
// and Mute repeat per channel; we keep Master only.
type renderingChange struct {
	XMLName  xml.Name `xml:"Event"`
	Instance struct {
		Volume []channelVal `xml:"Volume"`
		Mute   []channelVal `xml:"Mute"`
		Bass   attrVal      `xml:"Bass"`
		Treble attrVal      `xml:"Treble"`
	} `xml:"InstanceID"`
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type channelVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

// didlLite is the escaped track metadata document inside LastChange values.
type didlLite struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	Item    struct {
		Title       string `xml:"title"`
		Creator     string `xml:"creator"`
		Album       string `xml:"album"`
		AlbumArtURI string `xml:"albumArtURI"`
		Res         struct {
			Duration string `xml:"duration,attr"`
			URI      string `xml:",chardata"`
		} `xml:"res"`
	} `xml:"item"`
}

// zoneGroupState mirrors the ZoneGroupTopology group document (minimal subset).
type zoneGroupState struct {
	XMLName xml.Name `xml:"ZoneGroupState"`
	Groups  []struct {
		Coordinator string `xml:"Coordinator,attr"`
		Members     []struct {
			UUID     string `xml:"UUID,attr"`
			ZoneName string `xml:"ZoneName,attr"`
		} `xml:"ZoneGroupMember"`
	} `xml:"ZoneGroups>ZoneGroup"`
}

// Alarm mirrors an AlarmClock ListAlarms item.
type Alarm struct {
	ID                 string `xml:"ID,attr" json:"id"`
	StartTime          string `xml:"StartTime,attr" json:"startTime"`
	Duration           string `xml:"Duration,attr" json:"duration"`
	Recurrence         string `xml:"Recurrence,attr" json:"recurrence"`
	Enabled            bool   `xml:"Enabled,attr" json:"enabled"`
	RoomUUID           string `xml:"RoomUUID,attr" json:"roomUuid"`
	ProgramURI         string `xml:"ProgramURI,attr" json:"programUri"`
	PlayMode           string `xml:"PlayMode,attr" json:"playMode"`
	Volume             int    `xml:"Volume,attr" json:"volume"`
	IncludeLinkedZones bool   `xml:"IncludeLinkedZones,attr" json:"includeLinkedZones"`
}

type alarmList struct {
	XMLName xml.Name `xml:"Alarms"`
	Alarms  []Alarm  `xml:"Alarm"`
}
